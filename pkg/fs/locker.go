package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Locker hands out advisory flock-based locks. The lock file is created on
// first use and persists; only the flock, not the file, carries the lock.
type Locker struct {
	fs FS
}

// NewLocker returns a Locker operating over the given filesystem.
func NewLocker(fsys FS) *Locker {
	return &Locker{fs: fsys}
}

// Lock acquires an exclusive lock on path, blocking until it is available.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.lock(path, 0)
}

// TryLock acquires an exclusive lock on path without blocking. Returns
// ErrWouldBlock when another process holds it.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lock(path, syscall.LOCK_NB)
}

func (l *Locker) lock(path string, extraFlags int) (*Lock, error) {
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|extraFlags)
		if err == nil {
			return &Lock{file: f, path: path}, nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
}

// Lock is a held advisory lock. Close releases it.
type Lock struct {
	file File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Close releases the lock. Safe to call once; the lock file is left in
// place.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
