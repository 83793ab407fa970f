package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/engine"
	httpapi "github.com/fyrsmithlabs/chatindex/internal/http"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/metadata"
)

const transcript = "Me: ship it #release\nAssistant: done at 2024-05-01T12:00:00Z\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep config loading away from the real home directory.
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTranscript(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseCommand(t *testing.T) {
	p := writeTranscript(t, t.TempDir(), "chat.txt", transcript)

	out, err := execute(t, "parse", p)
	require.NoError(t, err)

	var segs []index.Segment
	require.NoError(t, json.Unmarshal([]byte(out), &segs))
	require.Len(t, segs, 2)
	assert.Equal(t, "Me: ship it #release\n", segs[0].Content)
	assert.Equal(t, index.SequenceID(p), segs[0].SequenceID)
	assert.Empty(t, segs[0].ID)
}

func TestParseCommand_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "parse", writeTranscript(t, dir, "bad.txt", "INVALID LINE\n"))
	assert.Error(t, err)

	_, err = execute(t, "parse")
	assert.Error(t, err, "file argument is required")
}

func TestMetadataCommand(t *testing.T) {
	p := writeTranscript(t, t.TempDir(), "chat.txt", transcript)

	out, err := execute(t, "metadata", p)
	require.NoError(t, err)

	var md metadata.Metadata
	require.NoError(t, json.Unmarshal([]byte(out), &md))
	assert.Equal(t, []string{"Assistant", "Me"}, md.Participants())
	assert.Equal(t, []string{"release"}, md.Keywords())
}

func TestIndexCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeTranscript(t, dir, "a.txt", transcript)
	b := writeTranscript(t, dir, "b.txt", "Me: hi\n")
	bad := writeTranscript(t, dir, "bad.txt", "INVALID LINE\n")

	out, err := execute(t, "index", a, bad, b)
	assert.Error(t, err, "failed files are reported")
	assert.Contains(t, out, "Indexed 2 sequence(s), 3 segment(s)")
	assert.Contains(t, out, a)
	assert.Contains(t, out, "participants=Assistant,Me")
	assert.Contains(t, out, "keywords=release")
}

func newTestDaemon(t *testing.T) (string, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	srv, err := httpapi.NewServer(eng, zap.NewNop(), nil, httpapi.WithVersion("test"))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, eng
}

func TestRemoteCommands(t *testing.T) {
	url, _ := newTestDaemon(t)
	p := writeTranscript(t, t.TempDir(), "chat.txt", transcript)

	out, err := execute(t, "--server", url, "reindex", p)
	require.NoError(t, err)
	assert.Contains(t, out, "created=2 updated=0 moved=0 deleted=0")

	out, err = execute(t, "--server", url, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Segments: 2")
	assert.Contains(t, out, "Version: test")

	out, err = execute(t, "--server", url, "sequences")
	require.NoError(t, err)
	assert.Contains(t, out, index.SequenceID(p))
	assert.Contains(t, out, "1 sequence(s)")

	out, err = execute(t, "--server", url, "find", "--participant", "assistant")
	require.NoError(t, err)
	var segs []index.Segment
	require.NoError(t, json.Unmarshal([]byte(out), &segs))
	require.Len(t, segs, 1)
	assert.True(t, strings.HasPrefix(segs[0].Content, "Assistant:"))
}

func TestRemoteCommands_ServerErrors(t *testing.T) {
	url, _ := newTestDaemon(t)

	_, err := execute(t, "--server", url, "reindex", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	_, err = execute(t, "--server", url, "find", "--after", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	_, err = execute(t, "--server", "http://127.0.0.1:1", "health")
	assert.Error(t, err)
}
