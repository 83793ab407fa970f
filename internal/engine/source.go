package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/chatindex/internal/index"
)

// ErrSizeLimit is matched by every SizeLimitError.
var ErrSizeLimit = errors.New("source exceeds size limit")

// SizeLimitError reports a source larger than the configured maximum.
type SizeLimitError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("source %s is %d bytes, limit is %d", e.Path, e.Size, e.Limit)
}

func (e *SizeLimitError) Unwrap() error {
	return ErrSizeLimit
}

// SourceReader supplies raw source bytes and provenance. Implementations
// enforce the size limit they are configured with.
type SourceReader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, index.Source, error)
}

// FileSystem reads sources from the local file system.
type FileSystem struct {
	// MaxBytes is the size limit; zero or negative means unlimited.
	MaxBytes int64
}

// Open stats and opens path.
func (fs FileSystem) Open(ctx context.Context, path string) (io.ReadCloser, index.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, index.Source{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, index.Source{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, index.Source{}, fmt.Errorf("%w: %s is a directory", index.ErrValidation, path)
	}
	if fs.MaxBytes > 0 && info.Size() > fs.MaxBytes {
		return nil, index.Source{}, &SizeLimitError{Path: path, Size: info.Size(), Limit: fs.MaxBytes}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, index.Source{}, fmt.Errorf("open source: %w", err)
	}
	src := index.Source{Path: path, Size: info.Size(), LastModified: info.ModTime()}
	return &readCloser{Reader: LimitReader(f, path, fs.MaxBytes), Closer: f}, src, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// LimitReader returns a reader that fails with a SizeLimitError once more
// than limit bytes have been read. A non-positive limit disables the check.
func LimitReader(r io.Reader, path string, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitedReader{r: r, path: path, limit: limit}
}

type limitedReader struct {
	r     io.Reader
	path  string
	limit int64
	n     int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.limit {
		return 0, &SizeLimitError{Path: l.path, Size: l.n, Limit: l.limit}
	}
	return n, err
}
