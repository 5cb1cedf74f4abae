//go:build linux

// Package lockfile enforces one engine instance per user via an advisory
// flock on a pidfile. The kernel drops the lock when the process exits,
// so a crashed instance never wedges the next start.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds
// the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock holds the locked pidfile open for the process lifetime.
type Lock struct {
	f    *os.File
	path string
}

// DefaultPath places the pidfile under XDG_RUNTIME_DIR, falling back to
// the temp directory.
func DefaultPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "keygrip.pid")
}

// TryLock acquires the lock non-blocking and records the holder's pid.
func TryLock(path string) (*Lock, error) {
	if path == "" {
		path = DefaultPath()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening pidfile %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w (pid %s)", ErrAlreadyRunning, holderPid(path))
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	return &Lock{f: f, path: path}, nil
}

func holderPid(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

// Release drops the lock and removes the pidfile. Safe on nil and
// idempotent.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close() // closing the fd releases the flock
	l.f = nil
	os.Remove(l.path)
	return err
}
