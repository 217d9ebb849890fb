package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scanstore.yaml")
	data := "storage:\n  backend: file\n  base_dir: " + filepath.Join(dir, "data") + "\n" +
		"classifier:\n  kind: heuristic\n  latency: -1ms\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScanThenListSessions(t *testing.T) {
	t.Setenv("SCANSTORE_STORAGE", "")
	t.Setenv("SCANSTORE_USER", "")
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "--user", "alice", "scan", "this", "is", "a", "scam")
	require.NoError(t, err, out)

	var rec session.ScanRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "this is a scam", rec.Input)
	assert.Equal(t, session.StatusScam, rec.Result.Status)

	out, err = run(t, "--config", cfg, "--user", "alice", "sessions")
	require.NoError(t, err, out)
	assert.Contains(t, out, "this is a scam")

	out, err = run(t, "--config", cfg, "--user", "bob", "sessions")
	require.NoError(t, err, out)
	assert.Contains(t, out, session.DefaultLabel)
	assert.NotContains(t, out, "this is a scam")
}

func TestResetCommand(t *testing.T) {
	t.Setenv("SCANSTORE_STORAGE", "")
	t.Setenv("SCANSTORE_USER", "")
	cfg := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "scan", "hello")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "reset")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Reset scanSessions-default")

	out, err = run(t, "--config", cfg, "sessions")
	require.NoError(t, err, out)
	assert.Contains(t, out, session.DefaultLabel)
	assert.NotContains(t, out, "hello")
}

func TestInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: etcd\n"), 0600))
	t.Setenv("SCANSTORE_STORAGE", "")
	t.Setenv("SCANSTORE_USER", "")

	_, err := run(t, "--config", path, "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
