package ipc

import (
	"bytes"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// Robust ownership tracking.
//
// Each role slot (sender, pinner, watcher) carries a 16-byte ownership
// record: a futex-style word holding the owner's TID plus the kernel
// robust-futex bit layout, and the owner thread's start time from /proc. The
// setup mutex occupies a record of the same size but uses only the word. Go programs cannot register words on the kernel's robust list (the
// runtime owns thread exit), so owner death is detected by probing /proc and
// promoted into the owner-died bit. The bit remains the single source of
// truth: once it is set, recovery proceeds exactly as it would with a
// kernel-robust word.
//
// The promotion probe runs only while holding the setup mutex, which also
// serializes every acquire and release of role slots. That ordering is what
// makes the start-time comparison safe: a slot's start time cannot be
// rewritten underneath a probe.

const (
	futexTIDMask   = 0x3fffffff
	futexOwnerDied = 0x40000000
	futexWaiters   = 0x80000000
)

const (
	trackerWordOff      = 0
	trackerStartTimeOff = 8
	trackerSize         = 16
)

// tracker is a view over one ownership record in the region.
type tracker struct {
	b []byte
}

func (t tracker) loadRaw() uint32 { return atomicLoadUint32(t.b[trackerWordOff:]) }

func (t tracker) tid() uint32 { return t.loadRaw() & futexTIDMask }

func isUnclaimed(raw uint32) bool { return raw == 0 }

func hasOwnerDied(raw uint32) bool { return raw&futexOwnerDied != 0 }

// acquire claims the record for the calling thread. The caller must hold the
// setup mutex and must have verified the record is unclaimed or cleared. The
// goroutine is pinned to its OS thread by the caller for the lifetime of the
// claim, so the recorded TID stays a valid liveness and signal target.
func (t tracker) acquire() {
	tid := uint32(unix.Gettid())
	start, _ := threadStartTime(int(tid))
	atomicStoreUint64(t.b[trackerStartTimeOff:], start)
	atomicStoreUint32(t.b[trackerWordOff:], tid)
}

// release gives the record up cleanly.
func (t tracker) release() {
	atomicStoreUint64(t.b[trackerStartTimeOff:], 0)
	atomicStoreUint32(t.b[trackerWordOff:], 0)
}

// forceClear resets the record without caring who owned it. Only valid under
// the setup mutex after the owner is known dead.
func (t tracker) forceClear() {
	atomicStoreUint64(t.b[trackerStartTimeOff:], 0)
	atomicStoreUint32(t.b[trackerWordOff:], 0)
}

func (t tracker) heldBySelf() bool {
	return t.tid() == uint32(unix.Gettid())
}

// ownerDefinitelyDead reports whether the record is claimed by a thread that
// no longer exists, promoting the discovery into the owner-died bit. Must be
// called with the setup mutex held; allocates, so never on the data path.
func (t tracker) ownerDefinitelyDead() bool {
	raw := t.loadRaw()
	if isUnclaimed(raw) {
		return false
	}
	if hasOwnerDied(raw) {
		return true
	}
	tid := int(raw & futexTIDMask)
	recorded := atomicLoadUint64(t.b[trackerStartTimeOff:])
	current, ok := threadStartTime(tid)
	if ok && (recorded == 0 || current == recorded) {
		return false
	}
	// The thread is gone (or its TID was recycled to a different thread).
	// Promote to the owner-died bit so later passes are cheap.
	atomicCASUint32(t.b[trackerWordOff:], raw, raw|futexOwnerDied)
	return true
}

// threadStartTime returns the boot-relative start time (clock ticks) of the
// given thread, the stable identity that survives TID reuse checks. Reports
// false when the thread does not exist.
func threadStartTime(tid int) (uint64, bool) {
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(tid) + "/stat")
	if err != nil {
		return 0, false
	}
	// The comm field may contain spaces; everything after the closing paren
	// is well-formed. starttime is field 22 overall, so field 20 after comm.
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 || end+2 > len(stat) {
		return 0, false
	}
	fields := bytes.Fields(stat[end+1:])
	if len(fields) < 20 {
		return 0, false
	}
	start, err := strconv.ParseUint(string(fields[19]), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// threadExists is the weaker probe used while stealing the setup mutex,
// where no lock serializes the start-time field.
func threadExists(tid int) bool {
	err := unix.Access("/proc/"+strconv.Itoa(tid), unix.F_OK)
	return err == nil
}

// setupMutex is the only blocking lock in the region. It is robust in the
// spec's sense: a grab observing a dead holder steals the word and reports
// that the owner died so the caller can run recovery.
type setupMutex struct {
	b []byte
}

// The wait below carries a timeout so a holder that died without waking us
// is eventually re-probed for liveness.
var setupLockRecheck = unix.Timespec{Nsec: 10 * 1000 * 1000}

// lock acquires the setup mutex for the calling thread; it does not pin the
// goroutine (withSetupLock does). Returns true if a previous holder died while
// holding it.
func (m setupMutex) lock() (ownerDied bool) {
	tid := uint32(unix.Gettid())
	died := false
	for {
		raw := atomicLoadUint32(m.b[trackerWordOff:])
		switch {
		case isUnclaimed(raw):
			if atomicCASUint32(m.b[trackerWordOff:], 0, tid) {
				return died
			}
		case hasOwnerDied(raw):
			// Steal, preserving the waiters bit so unlock still wakes them.
			if atomicCASUint32(m.b[trackerWordOff:], raw, tid|raw&futexWaiters) {
				return true
			}
		default:
			holder := int(raw & futexTIDMask)
			if !threadExists(holder) {
				atomicCASUint32(m.b[trackerWordOff:], raw, raw|futexOwnerDied)
				died = true
				continue
			}
			if raw&futexWaiters == 0 {
				if !atomicCASUint32(m.b[trackerWordOff:], raw, raw|futexWaiters) {
					continue
				}
				raw |= futexWaiters
			}
			ts := setupLockRecheck
			futexWait(m.b[trackerWordOff:], raw, &ts)
		}
	}
}

func (m setupMutex) unlock() {
	old := atomicSwapUint32(m.b[trackerWordOff:], 0)
	if old&futexWaiters != 0 {
		futexWake(m.b[trackerWordOff:], 1)
	}
}

// withSetupLock runs fn while holding the setup mutex, handing it whether a
// previous holder died mid-critical-section.
func (r *Region) withSetupLock(fn func(ownerDied bool)) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	m := setupMutex{b: r.data[offSetupMutex:]}
	died := m.lock()
	defer m.unlock()
	fn(died)
}
