// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lock guards a data directory against concurrent daemons. The
// lock is an O_EXCL pidfile: crash cleanup relies on probing the recorded
// pid for liveness, so a dead owner's file is taken over instead of
// wedging the restart.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/ManuGH/stagecache/internal/log"
)

// ErrHeld reports that the lock file names a process that is still
// running. Callers treat it as fatal and exit with a distinct code.
var ErrHeld = errors.New("instance lock held")

// Handle is an acquired lock. Release it on orderly shutdown; after a
// crash the next Acquire detects the dead owner and takes the file over.
type Handle struct {
	path string
	pid  int
}

// Path returns the lock file location.
func (h *Handle) Path() string { return h.path }

// Acquire takes the instance lock at path, typically
// config.PathsRuntime.LockFile. A lock file naming a live process fails
// with ErrHeld; a stale or unreadable file is removed and the acquisition
// retried once.
func Acquire(path string) (*Handle, error) {
	logger := log.WithComponent("lock")
	pid := os.Getpid()

	for attempt := 0; ; attempt++ {
		err := writePIDFile(path, pid)
		if err == nil {
			logger.Debug().
				Str("event", "lock.acquired").
				Str("path", path).
				Int("pid", pid).
				Msg("instance lock acquired")
			return &Handle{path: path, pid: pid}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("instance lock %s: %w", path, err)
		}

		owner, readErr := readOwner(path)
		if readErr == nil && alive(owner) {
			return nil, fmt.Errorf("%w by pid %d (%s)", ErrHeld, owner, path)
		}
		if attempt > 0 {
			// Two stale takeovers in a row means another process keeps
			// winning the recreate race. Let it have the lock.
			return nil, fmt.Errorf("%w (%s)", ErrHeld, path)
		}

		logger.Warn().
			Str("event", "lock.stale").
			Str("path", path).
			Int("owner_pid", owner).
			Msg("taking over stale instance lock")
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("instance lock %s: remove stale: %w", path, rmErr)
		}
	}
}

// Release removes the lock file when this process still owns it. A file
// that meanwhile names a different pid is left in place.
func (h *Handle) Release() error {
	owner, err := readOwner(h.path)
	if err == nil && owner != h.pid {
		return fmt.Errorf("instance lock %s: owned by pid %d, not releasing", h.path, owner)
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("instance lock %s: release: %w", h.path, err)
	}
	return nil
}

func writePIDFile(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G304 -- path derives from the validated data dir
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func readOwner(path string) (int, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path derives from the validated data dir
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid %q: %w", strings.TrimSpace(string(raw)), err)
	}
	return pid, nil
}
