package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/reindex"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) handle(_ context.Context, ch Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
	return nil
}

func (c *changeLog) snapshot() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.changes...)
}

func startWatcher(t *testing.T, h Handler, paths ...string) *Watcher {
	t.Helper()
	w, err := New(Config{Debounce: 50 * time.Millisecond, Rate: 1000, Burst: 100}, h, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	for _, p := range paths {
		require.NoError(t, w.Add(p))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
		_ = w.Close()
	})
	return w
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.txt")
	require.NoError(t, os.WriteFile(path, []byte("Me: a\n"), 0o600))

	var log changeLog
	startWatcher(t, log.handle, path)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("Me: edit\n"), 0o600))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	abs, _ := filepath.Abs(path)
	assert.Equal(t, []Change{{Path: abs, Op: OpUpdate}}, log.snapshot())
}

func TestWatcher_RemoveAndIgnoreUnregistered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(path, []byte("Me: a\n"), 0o600))

	var log changeLog
	startWatcher(t, log.handle, path)

	require.NoError(t, os.WriteFile(other, []byte("Me: b\n"), 0o600))
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	got := log.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, OpRemove, got[0].Op)
	assert.Equal(t, "chat.txt", filepath.Base(got[0].Path))
}

func TestWatcher_AddRemovePaths(t *testing.T) {
	dir := t.TempDir()
	w, err := New(DefaultConfig(), func(context.Context, Change) error { return nil })
	require.NoError(t, err)
	defer w.Close()

	a, b := filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")
	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(b))
	require.NoError(t, w.Add(a), "re-adding is a no-op")
	assert.Len(t, w.Paths(), 2)

	require.NoError(t, w.Remove(a))
	require.NoError(t, w.Remove(a))
	assert.Len(t, w.Paths(), 1)

	assert.Error(t, w.Add(filepath.Join(dir, "missing-dir", "c.txt")))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Add(a), ErrClosed)
	assert.ErrorIs(t, w.Run(context.Background()), ErrClosed)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)
	_, err = New(Config{Rate: 0, Burst: 1}, func(context.Context, Change) error { return nil })
	assert.Error(t, err)
}

type fakeIndexer struct {
	indexed, removed []string
	removeErr        error
}

func (f *fakeIndexer) IndexFile(_ context.Context, path string) (*reindex.Result, error) {
	f.indexed = append(f.indexed, path)
	return &reindex.Result{}, nil
}

func (f *fakeIndexer) RemoveSource(_ context.Context, path string) (*index.Sequence, error) {
	f.removed = append(f.removed, path)
	return nil, f.removeErr
}

func TestIndexHandler(t *testing.T) {
	ctx := context.Background()
	ix := &fakeIndexer{removeErr: index.ErrNotFound}
	h := IndexHandler(ix)

	require.NoError(t, h(ctx, Change{Path: "/a", Op: OpUpdate}))
	require.NoError(t, h(ctx, Change{Path: "/b", Op: OpRemove}), "unknown source is fine")
	assert.Equal(t, []string{"/a"}, ix.indexed)
	assert.Equal(t, []string{"/b"}, ix.removed)

	ix.removeErr = errors.New("closed")
	assert.Error(t, h(ctx, Change{Path: "/c", Op: OpRemove}))
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "remove", OpRemove.String())
}
