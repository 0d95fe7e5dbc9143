package ipc

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"golang.org/x/sys/unix"
)

// WakeupSignal is the realtime signal delivered to watcher threads on every
// publish. Numerically SIGRTMIN as a glibc-linked peer would compute it; the
// queued-signal range is untouched by the Go runtime.
const WakeupSignal = unix.Signal(34)

// NotifyWakeup relays WakeupSignal into ch via os/signal. Callers attach a
// watcher, then block on ch and re-read from their last index on every
// delivery; signals are best-effort and coalescing, never a message count.
func NotifyWakeup(ch chan<- os.Signal) {
	signal.Notify(ch, WakeupSignal)
}

// StopWakeup undoes NotifyWakeup.
func StopWakeup(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// Watcher is a registered wake-up target. Registration is passive: the
// watcher does nothing but exist in the table; WakeUppers signal its thread
// after publishing. The attaching goroutine stays pinned to its OS thread —
// that thread is the signal target — until Close.
type Watcher struct {
	r     *Region
	slot  watcherSlot
	index uint32

	closed bool
}

// AttachWatcher claims a watcher slot and registers the calling thread at
// the given priority. Returns ErrNoSlots when the table is full.
func AttachWatcher(r *Region, priority int) (*Watcher, error) {
	runtime.LockOSThread()

	w := &Watcher{r: r, index: ^uint32(0)}
	r.withSetupLock(func(bool) {
		for i := uint32(0); i < r.cfg.NumWatchers; i++ {
			slot := r.watcherSlot(i)
			tr := slot.tracker()
			// A dead owner's slot is reusable directly; everything we do
			// with it happens after whatever the dead process did before
			// dying, by virtue of the setup mutex.
			if isUnclaimed(tr.loadRaw()) || tr.ownerDefinitelyDead() {
				tr.forceClear()
				slot.setPID(uint32(os.Getpid()))
				slot.setPriority(int32(priority))
				tr.acquire()
				w.slot = slot
				w.index = i
				return
			}
		}
	})

	if w.index == ^uint32(0) {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("all %d watcher slots claimed: %w", r.cfg.NumWatchers, ErrNoSlots)
	}

	return w, nil
}

// Close unregisters the watcher.
func (w *Watcher) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	w.r.withSetupLock(func(bool) {
		if !w.slot.tracker().heldBySelf() {
			panic("ipc: watcher slot no longer owned by this thread")
		}
		w.slot.tracker().release()
	})
	runtime.UnlockOSThread()
	return nil
}
