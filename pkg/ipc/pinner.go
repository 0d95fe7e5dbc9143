package ipc

import (
	"fmt"
	"runtime"
)

// Pinner holds one past message out of circulation so its payload can be
// examined without a deadline. The pinner's scratch buffer is the spare a
// sender takes in exchange when it needs to overwrite the pinned slot, which
// is why attaching a pinner costs one pool buffer.
//
// A Pinner is not safe for concurrent use; the attaching goroutine stays
// pinned to its OS thread until Close.
type Pinner struct {
	r     *Region
	slot  pinnerSlot
	index uint32

	// pinnedMessage is the pool buffer the last successful PinIndex landed
	// on. Process-local: the shared slot only records the queue index, which
	// is what senders check against.
	pinnedMessage messageIndex

	closed bool
}

// AttachPinner claims a pinner slot. Returns ErrNoSlots when every slot is
// claimed.
func AttachPinner(r *Region) (*Pinner, error) {
	runtime.LockOSThread()

	p := &Pinner{r: r, index: ^uint32(0), pinnedMessage: messageIndexInvalid}
	r.withSetupLock(func(bool) {
		r.runRecovery()

		for i := uint32(0); i < r.cfg.NumPinners; i++ {
			slot := r.pinnerSlot(i)
			if isUnclaimed(slot.tracker().loadRaw()) {
				slot.invalidatePinned()
				slot.tracker().acquire()
				p.slot = slot
				p.index = i
				return
			}
		}
	})

	if p.index == ^uint32(0) {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("all %d pinner slots claimed: %w", r.cfg.NumPinners, ErrNoSlots)
	}

	return p, nil
}

// Close drops any pin and releases the slot.
func (p *Pinner) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true

	p.slot.invalidatePinned()
	p.r.withSetupLock(func(bool) {
		p.slot.tracker().release()
	})
	runtime.UnlockOSThread()
	return nil
}

// PinIndex pins the message at the given queue index. On success it returns
// the pool buffer holding the message; the payload stays byte-stable until
// the next PinIndex or Close. Returns false if the message was already
// overwritten. Lockless and allocation-free.
func (p *Pinner) PinIndex(requested uint32) (int, bool) {
	r := p.r
	queueSize := r.cfg.QueueSize
	queueIdx := queueIndexZero(queueSize).incrementBy(requested)

	// Declare intent first: once pinned is visible, any sender evicting this
	// message must rotate it into our scratch instead of writing over it.
	p.slot.storePinned(queueIdx)

	msgIdx := r.loadRingSlot(queueIdx.wrapped())
	m := r.messageAt(msgIdx)
	if m.loadQueueIndex(queueSize) == queueIdx {
		p.pinnedMessage = msgIdx
		return int(msgIdx.pool()), true
	}

	// The message was republished before our pin could land; back out.
	p.slot.invalidatePinned()
	p.pinnedMessage = messageIndexInvalid
	return 0, false
}

// Unpin releases the current pin without detaching.
func (p *Pinner) Unpin() {
	p.slot.invalidatePinned()
	p.pinnedMessage = messageIndexInvalid
}

// Data returns the payload of the pinned message. Panics if nothing is
// pinned.
func (p *Pinner) Data() []byte {
	if !p.pinnedMessage.valid() {
		panic("ipc: Data called with no pinned message")
	}
	return p.r.messageAt(p.pinnedMessage).payload(p.r.cfg.MessageDataSize)
}
