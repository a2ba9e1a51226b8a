// Package lockfile guards a workspace against two hubs mirroring it at
// once. The serve loop takes an exclusive flock on .uxr/uxrd.lock and
// writes its pid; a second hub pointed at the same workspace fails fast
// instead of fighting over the filesystem projection.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LockFileName is the advisory lock file inside the .uxr directory.
const LockFileName = "uxrd.lock"

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("workspace lock already held by another process")

// Handle is a held workspace lock. Release it when the hub shuts down;
// the OS also drops the flock if the process dies.
type Handle struct {
	file *os.File
	path string
}

// Path returns the lock file location.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Acquire takes the exclusive workspace lock under the given .uxr directory
// and records this process's pid in it. Returns an error wrapping ErrLockBusy
// when another hub holds it, with the holder's pid when readable.
func Acquire(uxrDir string) (*Handle, error) {
	if err := os.MkdirAll(uxrDir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lockPath := filepath.Join(uxrDir, LockFileName)

	// #nosec G304 - controlled path derived from the workspace directory
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open workspace lock: %w", err)
	}

	if err := flockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if pid, ok := readPID(lockPath); ok && isProcessRunning(pid) {
				return nil, fmt.Errorf("workspace already served by pid %d: %w", pid, ErrLockBusy)
			}
			return nil, fmt.Errorf("workspace lock %s: %w", lockPath, ErrLockBusy)
		}
		return nil, fmt.Errorf("workspace lock: %w", err)
	}

	// Lock held; stamp our pid for diagnostics.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
		_ = f.Sync()
	}

	return &Handle{file: f, path: lockPath}, nil
}

// Release drops the lock and removes the pid file. Safe to call multiple
// times (idempotent).
func (h *Handle) Release() {
	if h == nil || h.file == nil {
		return
	}
	_ = flockUnlock(h.file)
	_ = h.file.Close()
	h.file = nil
	// Best effort: a stale pid file is harmless, the flock is what gates.
	_ = os.Remove(h.path)
}

// HolderPID reports the pid recorded in the lock file under uxrDir, and
// whether that process is still alive. Client subcommands use it to explain
// why no hub is answering.
func HolderPID(uxrDir string) (int, bool) {
	pid, ok := readPID(filepath.Join(uxrDir, LockFileName))
	if !ok {
		return 0, false
	}
	return pid, isProcessRunning(pid)
}

func readPID(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath) // #nosec G304 - path built from uxrDir
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
