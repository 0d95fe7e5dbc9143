package ipc

// Typed views over role table slots. Each is a thin window into the mapping;
// the ownership record occupies the first 16 bytes of every slot.

type senderSlot struct {
	b []byte
}

func (r *Region) senderSlot(i uint32) senderSlot {
	return senderSlot{b: r.lay.senderAt(r.data, i)}
}

func (s senderSlot) tracker() tracker { return tracker{b: s.b[:trackerSize]} }

func (s senderSlot) scratch() messageIndex {
	return messageIndex(atomicLoadUint32(s.b[offSenderScratch:]))
}

func (s senderSlot) storeScratch(idx messageIndex) {
	atomicStoreUint32(s.b[offSenderScratch:], uint32(idx))
}

func (s senderSlot) casScratch(old, new messageIndex) bool {
	return atomicCASUint32(s.b[offSenderScratch:], uint32(old), uint32(new))
}

func (s senderSlot) toReplace() messageIndex {
	return messageIndex(atomicLoadUint32(s.b[offSenderReplace:]))
}

func (s senderSlot) storeToReplace(idx messageIndex) {
	atomicStoreUint32(s.b[offSenderReplace:], uint32(idx))
}

func (s senderSlot) invalidateToReplace() {
	atomicStoreUint32(s.b[offSenderReplace:], uint32(messageIndexInvalid))
}

type pinnerSlot struct {
	b []byte
}

func (r *Region) pinnerSlot(i uint32) pinnerSlot {
	return pinnerSlot{b: r.lay.pinnerAt(r.data, i)}
}

func (p pinnerSlot) tracker() tracker { return tracker{b: p.b[:trackerSize]} }

func (p pinnerSlot) scratch() messageIndex {
	return messageIndex(atomicLoadUint32(p.b[offPinnerScratch:]))
}

func (p pinnerSlot) storeScratch(idx messageIndex) {
	atomicStoreUint32(p.b[offPinnerScratch:], uint32(idx))
}

func (p pinnerSlot) casScratch(old, new messageIndex) bool {
	return atomicCASUint32(p.b[offPinnerScratch:], uint32(old), uint32(new))
}

func (p pinnerSlot) pinned(queueSize uint32) queueIndex {
	return queueIndexFromRaw(atomicLoadUint32(p.b[offPinnerPinned:]), queueSize)
}

func (p pinnerSlot) storePinned(q queueIndex) {
	atomicStoreUint32(p.b[offPinnerPinned:], q.raw())
}

func (p pinnerSlot) invalidatePinned() {
	atomicStoreUint32(p.b[offPinnerPinned:], queueIndexSentinel)
}

type watcherSlot struct {
	b []byte
}

func (r *Region) watcherSlot(i uint32) watcherSlot {
	return watcherSlot{b: r.lay.watcherAt(r.data, i)}
}

func (w watcherSlot) tracker() tracker { return tracker{b: w.b[:trackerSize]} }

func (w watcherSlot) pid() uint32 { return atomicLoadUint32(w.b[offWatcherPID:]) }

func (w watcherSlot) setPID(pid uint32) { atomicStoreUint32(w.b[offWatcherPID:], pid) }

func (w watcherSlot) priority() int32 {
	return int32(atomicLoadUint32(w.b[offWatcherPrio:]))
}

func (w watcherSlot) setPriority(p int32) {
	atomicStoreUint32(w.b[offWatcherPrio:], uint32(p))
}
