package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chatindex/internal/config"
	httpapi "github.com/fyrsmithlabs/chatindex/internal/http"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func getHealth(url string) (httpapi.HealthResponse, bool) {
	var health httpapi.HealthResponse
	resp, err := http.Get(url)
	if err != nil {
		return health, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return health, false
	}
	return health, json.NewDecoder(resp.Body).Decode(&health) == nil
}

func waitHealthy(t *testing.T, url string) httpapi.HealthResponse {
	t.Helper()
	var health httpapi.HealthResponse
	require.Eventually(t, func() bool {
		h, ok := getHealth(url)
		health = h
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	return health
}

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "chat.txt")
	require.NoError(t, os.WriteFile(good, []byte("Me: hello\nAssistant: hi\n"), 0o600))
	bad := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte("no markers here\n"), 0o600))

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Watch.Debounce = config.Duration(20 * time.Millisecond)
	cfg.Observability.LogLevel = "error"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, &cfg, []string{good, bad})
	}()

	base := fmt.Sprintf("http://%s", cfg.Server.Addr())
	health := waitHealthy(t, base+"/health")
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sequences, "a failing file does not stop the others")
	assert.Equal(t, 2, health.Segments)

	// The watcher picks up appended turns.
	require.NoError(t, os.WriteFile(good, []byte("Me: hello\nAssistant: hi\nMe: bye\n"), 0o600))
	require.Eventually(t, func() bool {
		h, ok := getHealth(base + "/health")
		return ok && h.Segments == 3
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestAbsPaths(t *testing.T) {
	got, err := absPaths([]string{"a.txt", "/tmp/b.txt"})
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(wd, "a.txt"), "/tmp/b.txt"}, got)
}
