package lockfile_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/battguard/internal/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	require.NoError(t, lockfile.Acquire())

	content, err := os.ReadFile(lockfile.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content), "Expected our PID in the lock file")

	require.NoError(t, lockfile.Release())
	_, err = os.Stat(lockfile.Path())
	assert.True(t, os.IsNotExist(err), "Expected lock file removed")
}

func TestAcquireIsReentrant(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	require.NoError(t, lockfile.Acquire())
	require.NoError(t, lockfile.Acquire(), "Re-acquiring our own lock should succeed")
	require.NoError(t, lockfile.Release())
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	// A PID that cannot be a live process
	stale := filepath.Join(dir, "battguard.lock")
	require.NoError(t, os.WriteFile(stale, []byte("4194399"), 0o600))

	require.NoError(t, lockfile.Acquire())

	content, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(t, lockfile.Release())
}

func TestAcquireReplacesInvalidLock(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "battguard.lock"), []byte("not-a-pid"), 0o600))

	require.NoError(t, lockfile.Acquire())
	require.NoError(t, lockfile.Release())
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	foreign := filepath.Join(dir, "battguard.lock")
	require.NoError(t, os.WriteFile(foreign, []byte("1"), 0o600))

	require.NoError(t, lockfile.Release())
	_, err := os.Stat(foreign)
	assert.NoError(t, err, "Expected foreign lock file untouched")
}
