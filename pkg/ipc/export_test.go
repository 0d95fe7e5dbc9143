package ipc

// Test-only access to region internals. Recovery tests park role slots in
// exact mid-publish states instead of racing real process deaths; these
// helpers are how they reach in.

const (
	QueueIndexInvalidRaw   = queueIndexSentinel
	MessageIndexInvalidRaw = uint32(messageIndexInvalid)
	RedzoneSizeForTest     = redzoneSize
	FutexOwnerDiedForTest  = futexOwnerDied
)

// MessageIndexRaw builds a raw tagged message index for a publish of pool
// buffer `pool` at queue index `queueIndexRaw`.
func MessageIndexRaw(queueIndexRaw, pool, queueSize uint32) uint32 {
	return uint32(makeMessageIndex(queueIndexFromRaw(queueIndexRaw, queueSize), pool))
}

// IndexModulusForTest exposes the queue-index wrap modulus.
func IndexModulusForTest(queueSize uint32) uint64 { return indexModulus(queueSize) }

func (r *Region) TestRunRecovery() {
	r.withSetupLock(func(bool) { r.runRecovery() })
}

func (r *Region) TestRing(slot uint32) uint32 { return uint32(r.loadRingSlot(slot)) }

func (r *Region) TestStoreRing(slot, val uint32) {
	atomicStoreUint32(r.lay.ringSlot(r.data, slot), val)
}

func (r *Region) TestNextQueueIndexRaw() uint32 {
	return atomicLoadUint32(r.data[offNextQueueIndex:])
}

func (r *Region) TestStoreNextQueueIndexRaw(v uint32) {
	atomicStoreUint32(r.data[offNextQueueIndex:], v)
}

func (r *Region) TestMessageQueueIndexRaw(pool uint32) uint32 {
	return r.lay.messageAt(r.data, pool).queueIndexRaw()
}

func (r *Region) TestStoreMessageQueueIndexRaw(pool, raw uint32) {
	atomicStoreUint32(r.lay.messageAt(r.data, pool).b[offMsgQueueIndex:], raw)
}

func (r *Region) TestStoreMessageLength(pool, n uint32) {
	r.lay.messageAt(r.data, pool).setLength(n)
}

func (r *Region) TestMessagePayload(pool uint32) []byte {
	return r.lay.messageAt(r.data, pool).payload(r.cfg.MessageDataSize)
}

// TestCorruptPostRedzone flips one guard byte of the pool slot.
func (r *Region) TestCorruptPostRedzone(pool uint32) {
	zone := r.lay.messageAt(r.data, pool).postRedzone(r.cfg.MessageDataSize)
	zone[0] ^= 0xff
}

func (r *Region) TestCheckBothRedzones(pool uint32) bool { return r.checkBothRedzones(pool) }

func (r *Region) TestSenderState(i uint32) (scratch, toReplace, trackerRaw uint32) {
	s := r.senderSlot(i)
	return uint32(s.scratch()), uint32(s.toReplace()), s.tracker().loadRaw()
}

// TestSetSenderSlot writes a sender slot wholesale: the two indices plus a
// tracker word claiming it for a (fake, dead) thread with the owner-died bit
// already promoted.
func (r *Region) TestSetSenderSlot(i, scratch, toReplace, trackerRaw uint32) {
	s := r.senderSlot(i)
	s.storeScratch(messageIndex(scratch))
	s.storeToReplace(messageIndex(toReplace))
	atomicStoreUint64(s.b[trackerStartTimeOff:], 0)
	atomicStoreUint32(s.b[trackerWordOff:], trackerRaw)
}

func (r *Region) TestPinnerState(i uint32) (scratch, pinned, trackerRaw uint32) {
	p := r.pinnerSlot(i)
	return uint32(p.scratch()), p.pinned(r.cfg.QueueSize).raw(), p.tracker().loadRaw()
}

func (r *Region) TestSetPinnerSlot(i, scratch, pinned, trackerRaw uint32) {
	p := r.pinnerSlot(i)
	p.storeScratch(messageIndex(scratch))
	atomicStoreUint32(p.b[offPinnerPinned:], pinned)
	atomicStoreUint64(p.b[trackerStartTimeOff:], 0)
	atomicStoreUint32(p.b[trackerWordOff:], trackerRaw)
}

func (r *Region) TestWatcherTrackerRaw(i uint32) uint32 {
	return r.watcherSlot(i).tracker().loadRaw()
}

// TestMarkWatcherDead overwrites a watcher's tracker with a dead fake TID.
func (r *Region) TestMarkWatcherDead(i uint32) {
	w := r.watcherSlot(i)
	atomicStoreUint32(w.b[trackerWordOff:], deadFakeTID|futexOwnerDied)
}

func (r *Region) TestSetUID(uid uint32) {
	atomicStoreUint32(r.data[offUID:], uid)
}

func (r *Region) TestVerifyAttach() error {
	uid, err := signalUID()
	if err != nil {
		return err
	}
	var attachErr error
	r.withSetupLock(func(bool) { attachErr = r.verifyAttach(uid) })
	return attachErr
}

// deadFakeTID is claimed by no real thread: the kernel's default pid_max is
// 4194304, well below this.
const deadFakeTID = 0x3ffffff0

func DeadFakeTID() uint32 { return deadFakeTID }
