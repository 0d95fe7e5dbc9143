package ipc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Raw futex syscalls over words inside the shared region.
//
// FUTEX_PRIVATE_FLAG is deliberately absent: the words live in a MAP_SHARED
// mapping and must be matchable across processes.

// futexWait blocks until the word at b changes away from val, the timeout
// expires, or a signal interrupts. Spurious returns are expected; callers
// loop.
func futexWait(b []byte, val uint32, timeout *unix.Timespec) {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&b[0])),
		uintptr(unix.FUTEX_WAIT),
		uintptr(val),
		uintptr(unsafe.Pointer(timeout)),
		0, 0,
	)
	_ = errno // EAGAIN/EINTR/ETIMEDOUT are all "go re-check the word"
}

// futexWake wakes up to n waiters on the word at b and returns how many were
// woken.
func futexWake(b []byte, n int) int {
	r, _, _ := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&b[0])),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0, 0, 0,
	)
	return int(r)
}
