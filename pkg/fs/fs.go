// Package fs provides the small filesystem surface the bus needs — config
// reads and advisory file locks — behind an interface so tests can substitute
// implementations.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation wrapping the [os] package
//   - [Locker]: flock-based advisory locks over an [FS]
//
// Paths use OS semantics (like the os package and path/filepath), not the
// slash-separated paths of the standard library io/fs package.
//
// Implementations must be safe for concurrent use by multiple goroutines.
package fs

import (
	"errors"
	"io"
	"os"
)

// ErrWouldBlock is returned by [Locker.TryLock] when another process already
// holds the lock.
var ErrWouldBlock = errors.New("fs: lock would block")

// File represents an OS-backed open file descriptor.
//
// The intent is os-like behavior: implementations must behave like
// [os.File], including that [File.Fd] returns a valid OS file descriptor
// usable with syscalls (for example flock) until the file is closed.
type File interface {
	// Embedded interfaces from [io]; these provide Read, Write, Close and
	// Seek.
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd]. Used for low-level
	// operations like flock.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations the bus uses.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// Stat returns file info. See [os.Stat]. Returns [os.ErrNotExist] if the
	// file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Remove deletes a file. See [os.Remove].
	Remove(path string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
