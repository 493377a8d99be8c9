package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFileName = "daemon.lock"

// LockHeldError is returned when another daemon already owns the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("session already owned by daemon PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session already locked (%s)", e.Path)
}

// Lock marks a session directory as owned by this daemon. Exactly one daemon
// may own a session's cache store and transport session at a time; starting a
// second daemon on the same session must fail fast instead of corrupting the
// cache.
type Lock struct {
	file *os.File
	path string
}

// Acquire claims exclusive ownership of the session directory. Returns
// LockHeldError when another running daemon already owns it.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(sessionDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		pid := ownerPID(string(data))
		_ = f.Close()
		return nil, &LockHeldError{PID: pid, Path: path}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nacquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// Release gives up ownership of the session. Safe to call on a nil receiver
// and safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ownerPID extracts the owning daemon's PID from the lock file contents for
// the LockHeldError diagnostic.
func ownerPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
