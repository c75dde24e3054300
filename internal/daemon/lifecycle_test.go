package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)
	assert.Equal(t, filepath.Join(dir, "memcore.pid"), p.Path())

	require.NoError(t, p.Acquire())

	info, ok := Running(p.Path())
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.WithinDuration(t, time.Now(), info.Started, time.Minute)

	// Re-acquiring from the owning process is allowed.
	require.NoError(t, p.Acquire())

	require.NoError(t, p.Release())
	_, ok = Running(p.Path())
	assert.False(t, ok)
	assert.NoError(t, p.Release(), "missing PID file is not an error")
}

func TestPIDFile_RefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)

	// The parent process stands in for another running daemon.
	require.NoError(t, os.WriteFile(p.Path(), []byte(strconv.Itoa(os.Getppid())), 0644))

	assert.ErrorContains(t, p.Acquire(), "already running")

	// Release leaves a file owned by someone else in place.
	require.NoError(t, p.Release())
	assert.FileExists(t, p.Path())
}

func TestPIDFile_ReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir)
	require.NoError(t, os.WriteFile(p.Path(), []byte("999999999\n"), 0644))

	require.NoError(t, p.Acquire())
	pid, err := ReadPID(p.Path())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0644))
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)
	_, ok := Running(bad)
	assert.False(t, ok)

	legacy := filepath.Join(dir, "legacy.pid")
	require.NoError(t, os.WriteFile(legacy, []byte("4242\n"), 0644))
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(legacy, mtime, mtime))
	info, err := ReadPIDFile(legacy)
	require.NoError(t, err)
	assert.Equal(t, 4242, info.PID)
	assert.True(t, info.Started.Equal(mtime))

	full := filepath.Join(dir, "full.pid")
	require.NoError(t, os.WriteFile(full, []byte("7\n2026-01-02T03:04:05Z\n"), 0644))
	info, err = ReadPIDFile(full)
	require.NoError(t, err)
	assert.Equal(t, 7, info.PID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), info.Started)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
