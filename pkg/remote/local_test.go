// pkg/remote/local_test.go

package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutorRun(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)

	result, err := e.Run(ctx, Options{Command: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Empty(t, result.Stderr)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestLocalExecutorRunNonZeroExit(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)

	result, err := e.Run(ctx, Options{Command: "echo oops >&2; exit 3"})
	require.Error(t, err)

	var ce *CommandError
	require.True(t, cerr.As(err, &ce))
	assert.Equal(t, 3, ce.ExitCode)
	assert.Equal(t, "oops", ce.Stderr)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalExecutorRunTimeout(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)

	_, err := e.Run(ctx, Options{Command: "sleep 5", Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	var te *TimeoutError
	assert.True(t, cerr.As(err, &te))
}

func TestLocalExecutorRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewLocalExecutor(false)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.Run(ctx, Options{Command: "sleep 5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalExecutorPutFileAtomic(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)
	dir := t.TempDir()
	dest := filepath.Join(dir, "unit.service")

	require.NoError(t, e.PutFile(ctx, []byte("[Unit]\n"), dest, "0644", ""))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "[Unit]\n", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	// No temp leftovers once the rename has happened.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalExecutorFileExists(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)
	dir := t.TempDir()

	exists, err := e.FileExists(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	exists, err = e.FileExists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalExecutorReadFile(t *testing.T) {
	ctx := context.Background()
	e := NewLocalExecutor(false)
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o600))

	data, err := e.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}
