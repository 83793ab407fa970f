package watch

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/reindex"
)

// Indexer is the part of the engine a watcher drives.
type Indexer interface {
	IndexFile(ctx context.Context, path string) (*reindex.Result, error)
	RemoveSource(ctx context.Context, path string) (*index.Sequence, error)
}

// IndexHandler reindexes updated files and removes deleted ones. Removing a
// source that was never indexed is not an error.
func IndexHandler(ix Indexer) Handler {
	return func(ctx context.Context, ch Change) error {
		if ch.Op == OpRemove {
			_, err := ix.RemoveSource(ctx, ch.Path)
			if errors.Is(err, index.ErrNotFound) {
				return nil
			}
			return err
		}
		_, err := ix.IndexFile(ctx, ch.Path)
		return err
	}
}
