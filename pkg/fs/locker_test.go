package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_While_Held(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "region.lock")

	held, err := locker.Lock(path)
	if err != nil {
		t.Fatal(err)
	}

	// flock is per-open-file, so a second open descriptor contends even
	// inside one process.
	if _, err := locker.TryLock(path); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock while held: got %v, want ErrWouldBlock", err)
	}

	if err := held.Close(); err != nil {
		t.Fatal(err)
	}

	reacquired, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	_ = reacquired.Close()
}

func Test_Locker_Creates_And_Keeps_Lock_File(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "region.lock")

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatal(err)
	}
	if lock.Path() != path {
		t.Fatalf("Path = %q", lock.Path())
	}
	if err := lock.Close(); err != nil {
		t.Fatal(err)
	}

	// The lock file persists; only the flock is released.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing after release: %v", err)
	}

	// Double Close is harmless.
	if err := lock.Close(); err != nil {
		t.Fatal(err)
	}
}
