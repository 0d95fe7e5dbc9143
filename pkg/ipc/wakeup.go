package ipc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// siginfo mirrors the kernel's siginfo_t for rt_tgsigqueueinfo on 64-bit
// little-endian Linux. Only the SI_QUEUE union arm is populated.
type siginfo struct {
	signo int32
	errno int32
	code  int32
	_     int32
	pid   int32
	uid   uint32
	value uintptr
	_     [96]byte
}

const siQueue = -1 // SI_QUEUE: queued by sigqueue-style senders

// rtTgsigqueueinfo queues sig to one specific thread of the target process,
// with full siginfo. Thread-directed delivery is the point: a process may
// host several watchers on different threads.
func rtTgsigqueueinfo(tgid, tid uint32, sig unix.Signal, si *siginfo) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_RT_TGSIGQUEUEINFO,
		uintptr(tgid),
		uintptr(tid),
		uintptr(sig),
		uintptr(unsafe.Pointer(si)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// schedParam mirrors struct sched_param.
type schedParam struct {
	priority int32
}

// setScheduler switches the calling thread to the given policy and priority.
func setScheduler(policy, priority int32) error {
	param := schedParam{priority: priority}
	_, _, errno := unix.Syscall(
		unix.SYS_SCHED_SETSCHEDULER,
		0,
		uintptr(policy),
		uintptr(unsafe.Pointer(&param)),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// watcherCopy is one row of the wakeup snapshot.
type watcherCopy struct {
	ownership uint32
	pid       uint32
	tid       uint32
	priority  int32
}

// WakeUpper delivers wake-up signals to registered watchers after a publish.
// It holds no slot and may be created freely; the snapshot array is
// preallocated so Wakeup itself is allocation-free.
//
// Wakeup may block briefly inside signal delivery and the optional scheduler
// boost; it belongs right after the send on the publishing thread, not
// inside any lockless section.
type WakeUpper struct {
	r   *Region
	pid uint32
	uid uint32

	// SkipSchedulerBoost disables the transient SCHED_FIFO priority boost.
	// For tests and unprivileged processes; boosting requires RT scheduling
	// rights.
	SkipSchedulerBoost bool

	copies []watcherCopy
}

// AttachWakeUpper prepares a WakeUpper for the region.
func AttachWakeUpper(r *Region) *WakeUpper {
	return &WakeUpper{
		r:      r,
		pid:    uint32(unix.Getpid()),
		uid:    uint32(unix.Getuid()),
		copies: make([]watcherCopy, r.cfg.NumWatchers),
	}
}

// Wakeup signals every live watcher thread once, highest priority first, and
// returns the number of watchers it attempted to signal (a delivery that
// fails, e.g. to a watcher that died after the snapshot, is still counted).
// currentPriority is the caller's
// realtime priority (0 when not realtime); if any watcher outranks it the
// caller is boosted to the maximum watcher priority for the duration of
// delivery so a low-priority publisher cannot priority-invert its consumers.
func (w *WakeUpper) Wakeup(currentPriority int) int {
	r := w.r
	n := uint32(len(w.copies))

	// Snapshot the table. A watcher can still die after this point; we will
	// boost and signal its stale TID, and the delivery error is ignored.
	// Closing that window would take pidfds, which are not realtime-safe.
	for i := uint32(0); i < n; i++ {
		slot := r.watcherSlot(i)
		c := &w.copies[i]
		c.ownership = slot.tracker().loadRaw()
		c.pid = slot.pid()
		c.tid = c.ownership & futexTIDMask
		c.priority = slot.priority()

		if isUnclaimed(c.ownership) || hasOwnerDied(c.ownership) {
			c.priority = -1
			continue
		}
		// If the slot was released or re-claimed while we were looking, the
		// pid/priority pair may belong to someone else; drop it.
		if slot.tracker().loadRaw() != c.ownership {
			c.priority = -1
		}
	}

	// Insertion sort, descending priority. The table is small and the sort
	// must not allocate.
	for i := 1; i < len(w.copies); i++ {
		c := w.copies[i]
		j := i - 1
		for j >= 0 && w.copies[j].priority < c.priority {
			w.copies[j+1] = w.copies[j]
			j--
		}
		w.copies[j+1] = c
	}

	if len(w.copies) == 0 || w.copies[0].priority < 0 {
		return 0
	}

	maxPriority := int(w.copies[0].priority)
	boosted := maxPriority > currentPriority && currentPriority > 0
	if boosted && !w.SkipSchedulerBoost {
		if err := setScheduler(int32(unix.SCHED_FIFO), int32(maxPriority)); err != nil {
			panic("ipc: cannot boost to SCHED_FIFO " + err.Error())
		}
	}

	si := siginfo{
		signo: int32(WakeupSignal),
		code:  siQueue,
		pid:   int32(w.pid),
		uid:   w.uid,
	}

	count := 0
	for i := range w.copies {
		c := &w.copies[i]
		if c.priority < 0 {
			break
		}
		// Best effort: a watcher that died after the snapshot costs us one
		// failed syscall and nothing else.
		_ = rtTgsigqueueinfo(c.pid, c.tid, WakeupSignal, &si)
		count++
	}

	if boosted && !w.SkipSchedulerBoost {
		if err := setScheduler(int32(unix.SCHED_FIFO), int32(currentPriority)); err != nil {
			panic("ipc: cannot drop SCHED_FIFO boost " + err.Error())
		}
	}

	return count
}
