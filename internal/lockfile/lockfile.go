// Package lockfile enforces the single-instance guarantee through a
// PID-stamped lock file in the user's runtime directory.
package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
)

const lockName = "battguard.lock"

// Path returns the lock file location: XDG_RUNTIME_DIR when available,
// the system temp directory otherwise.
func Path() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, lockName)
	}

	return filepath.Join(os.TempDir(), lockName)
}

// Acquire writes the current process ID to the lock file. A lock held by a
// live process fails with ErrAlreadyRunning; a stale lock from a dead
// process is replaced.
func Acquire() error {
	errFactory := errors.New()
	path := Path()

	if content, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(content)))
		if convErr != nil {
			logger.Warn().Str("path", path).Msg("Removing lock file with invalid PID")
		} else if pid == os.Getpid() {
			return nil
		} else if processAlive(pid) {
			return errFactory.New(errors.ErrAlreadyRunning).WithData(pid)
		} else {
			logger.Info().Int("pid", pid).Msg("Removing stale lock file from dead process")
		}

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return errFactory.Wrap(errors.ErrLockFailed, rmErr)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrLockFailed, err)
	}

	return nil
}

// Release removes the lock file if it belongs to this process.
func Release() error {
	errFactory := errors.New()
	path := Path()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if strings.TrimSpace(string(content)) != strconv.Itoa(os.Getpid()) {
		logger.Warn().Str("path", path).Msg("Lock file belongs to another process; leaving it in place")
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
