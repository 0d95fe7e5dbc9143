package ipc

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// bootUUID identifies this boot of the machine. Messages carry it so a
// consumer that survives a peer reboot can tell old traffic from new.
var bootUUID = func() uuid.UUID {
	if b, err := os.ReadFile("/proc/sys/kernel/random/boot_id"); err == nil {
		if u, err := uuid.Parse(strings.TrimSpace(string(b))); err == nil {
			return u
		}
	}
	return uuid.New()
}()

// BootUUID returns the UUID stamped on messages sent from this machine boot.
func BootUUID() uuid.UUID { return bootUUID }

// SendOptions carry the pass-through fields for forwarded messages. A nil
// options value means a locally-originated message.
type SendOptions struct {
	// MonotonicRemoteTime, RealtimeRemoteTime and MonotonicRemoteTransmitTime
	// are the original send/transmit times on the forwarding node.
	MonotonicRemoteTime         int64
	RealtimeRemoteTime          int64
	MonotonicRemoteTransmitTime int64

	// RemoteQueueIndex is the queue index on the forwarding node. Readers of
	// a locally-originated message see the local queue index instead.
	RemoteQueueIndex uint32

	// SourceBootUUID identifies the boot of the originating machine.
	SourceBootUUID uuid.UUID
}

// SendInfo reports the outcome of a successful Send.
type SendInfo struct {
	// QueueIndex is the publication slot assigned to the message.
	QueueIndex uint32
	// MonotonicSentTime and RealtimeSentTime are the official send times. If
	// a racing reader populated them first, these are the reader's samples;
	// either way every observer sees the same values.
	MonotonicSentTime int64
	RealtimeSentTime  int64
}

// Sender is an attached sender slot. It owns exactly one scratch buffer
// between sends. A Sender is not safe for concurrent use; the attaching
// goroutine stays pinned to its OS thread until Close, because the slot's
// crash detection is keyed on that thread's identity.
type Sender struct {
	r       *Region
	slot    senderSlot
	index   uint32
	storage int64 // channel storage duration, nanoseconds

	closed bool
}

// AttachSender claims a sender slot. storageDuration is the channel's replay
// window: overwriting a message younger than this makes Send report
// SendTooFast. Returns ErrNoSlots when every slot is claimed.
func AttachSender(r *Region, storageDuration time.Duration) (*Sender, error) {
	if storageDuration <= 0 {
		return nil, fmt.Errorf("storage duration must be positive: %w", ErrInvalidInput)
	}

	runtime.LockOSThread()

	s := &Sender{r: r, index: ^uint32(0), storage: int64(storageDuration)}
	r.withSetupLock(func(bool) {
		r.runRecovery()

		for i := uint32(0); i < r.cfg.NumSenders; i++ {
			slot := r.senderSlot(i)
			if isUnclaimed(slot.tracker().loadRaw()) {
				slot.tracker().acquire()
				s.slot = slot
				s.index = i
				return
			}
		}
	})

	if s.index == ^uint32(0) {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("all %d sender slots claimed: %w", r.cfg.NumSenders, ErrNoSlots)
	}

	// A freshly adopted scratch buffer must look unused; anything else means
	// recovery failed to restore the at-rest invariant.
	if r.messageAt(s.slot.scratch()).loadQueueIndex(r.cfg.QueueSize).valid() {
		panic("ipc: adopted sender scratch has a live queue index")
	}

	return s, nil
}

// Close releases the sender slot.
func (s *Sender) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	s.r.withSetupLock(func(bool) {
		s.slot.tracker().release()
	})
	runtime.UnlockOSThread()
	return nil
}

// Data returns the payload area of the current scratch buffer. The slice
// stays valid and stable between Send calls; Send publishes whatever the
// caller wrote here.
func (s *Sender) Data() []byte {
	return s.r.messageAt(s.slot.scratch()).payload(s.r.cfg.MessageDataSize)
}

// BufferIndex returns the pool position of the current scratch buffer, for
// consumers that track buffers by index.
func (s *Sender) BufferIndex() int {
	return int(s.slot.scratch().pool())
}

// CopyAndSend copies the payload into the scratch buffer and publishes it.
// The copy lands at the end of the buffer: framed encodings build messages
// back-to-front, and explicit payloads follow the same convention.
func (s *Sender) CopyAndSend(payload []byte, opts *SendOptions) (SendResult, SendInfo) {
	data := s.Data()
	copy(data[len(data)-len(payload):], payload)
	return s.Send(len(payload), opts)
}

// Send publishes the last length bytes of the scratch buffer's payload area
// (the payload area is always transferred whole; length tells readers how
// much of its tail is the message). Lockless: no syscalls beyond clock reads, no
// allocation, no blocking. Loops only while some other sender is making
// progress.
func (s *Sender) Send(length int, opts *SendOptions) (SendResult, SendInfo) {
	r := s.r
	queueSize := r.cfg.QueueSize

	if length < 0 || uint32(length) > r.cfg.MessageDataSize {
		panic(fmt.Sprintf("ipc: send length %d exceeds message data size %d", length, r.cfg.MessageDataSize))
	}

	scratchPool := s.slot.scratch().pool()
	msg := r.messageAt(s.slot.scratch())

	if !r.checkBothRedzones(scratchPool) {
		return SendBadRedzone, SendInfo{}
	}

	msg.setLength(uint32(length))
	if opts != nil {
		msg.setRemoteTimes(opts.MonotonicRemoteTime, opts.MonotonicRemoteTransmitTime, opts.RealtimeRemoteTime)
		msg.setRemoteQueueIndex(opts.RemoteQueueIndex)
		msg.setSourceBootUUID(opts.SourceBootUUID)
	} else {
		msg.setRemoteTimes(invalidTimestamp, invalidTimestamp, invalidTimestamp)
		msg.setRemoteQueueIndex(remoteQueueIndexUnset)
		msg.setSourceBootUUID(bootUUID)
	}

	var info SendInfo
	var toReplace messageIndex

	for {
		actualNext := r.loadNextQueueIndex()
		next := actualNext.zeroOrValid()
		incremented := next.increment()

		// If there is a prior message, settle its send times first. Readers
		// comparing timestamps across messages must never observe the new
		// message before the old one has official times.
		if actualNext.valid() {
			prev := r.loadRingSlot(next.decrementBy(1).wrapped())
			r.messageAt(prev).setSendTimestamps()
		}

		toReplace = r.loadRingSlot(next.wrapped())
		decremented := next.decrementBy(queueSize)

		// If the slot doesn't hold the expected one-generation-old entry,
		// another sender got ahead of us and the shared counter is lagging.
		// Help it along and retry; we don't care whether our CAS wins.
		if !toReplace.plausible(decremented) {
			r.casNextQueueIndex(actualNext, incremented)
			continue
		}

		// Cheap confirmation against the full queue index before touching
		// the clocks: if this fails, the slot CAS below would fail too.
		msgToReplace := r.messageAt(toReplace)
		previousIndex := msgToReplace.loadQueueIndex(queueSize)
		previousValid := previousIndex.valid()
		if previousValid && previousIndex != decremented {
			continue
		}

		// Wipe our send times before publication; whoever reads the message
		// first may end up populating them.
		msg.invalidateSendTimestamps()

		// The conservative too-fast estimate: our real send time will be at
		// or after this clock sample, so if the victim is within the storage
		// duration of it, readers could observe an overwrite that is too
		// young. An invalid previous index means the slot was never
		// published, which cannot be too fast.
		toReplaceSent := msgToReplace.monotonicSent()
		conservativeSendTime := monotonicNow()
		if previousValid &&
			toReplaceSent != invalidTimestamp &&
			toReplaceSent < conservativeSendTime &&
			conservativeSendTime-toReplaceSent < s.storage {
			// Another sender may have beaten us to the victim but lost the
			// timestamp race, making the victim look too young. If the full
			// index moved on, that is what happened; retry instead.
			recheck := msgToReplace.loadQueueIndex(queueSize)
			if recheck != decremented && recheck.valid() {
				continue
			}
			msg.invalidateQueueIndex()
			return SendTooFast, SendInfo{}
		}

		// Commit point approach: retag our scratch with the publication
		// index, stamp the message, record what we are about to evict. From
		// here until toReplace is invalidated again, recovery can classify
		// exactly how far we got.
		indexToWrite := makeMessageIndex(next, scratchPool)
		s.slot.storeScratch(indexToWrite)
		msg.storeQueueIndex(next)
		s.slot.storeToReplace(toReplace)

		if !r.casRingSlot(next.wrapped(), toReplace, indexToWrite) {
			s.slot.invalidateToReplace()
			continue
		}

		// Published. Everything below is cleanup.
		mono, rt := msg.setSendTimestamps()
		info = SendInfo{QueueIndex: next.raw(), MonotonicSentTime: mono, RealtimeSentTime: rt}

		r.casNextQueueIndex(actualNext, incremented)

		s.slot.storeScratch(toReplace)
		s.slot.invalidateToReplace()
		break
	}

	// The evicted message is our new scratch unless a pinner holds it, in
	// which case we rotate through the pinner's spare.
	newScratch := r.swapPinnedScratch(s.slot, toReplace)
	r.messageAt(newScratch).invalidateQueueIndex()

	return SendOK, info
}

// isPinned reports whether any pinner currently holds the given message.
func (r *Region) isPinned(idx messageIndex) bool {
	qi := r.messageAt(idx).loadQueueIndex(r.cfg.QueueSize)
	if !qi.valid() {
		return false
	}
	for i := uint32(0); i < r.cfg.NumPinners; i++ {
		if r.pinnerSlot(i).pinned(r.cfg.QueueSize) == qi {
			return true
		}
	}
	return false
}

// swapPinnedScratch ensures the sender's scratch (which must currently be
// toReplace) is not pinned, rotating buffers with a pinner when it is.
// Returns the final scratch index.
//
// The loop terminates: there are only as many pinned values as pinner
// scratches to check against, plus toReplace itself, so an unpinned buffer
// always exists. Concurrent re-pins can force extra passes but cannot starve
// it, and owners dying cannot either — their count is finite.
func (r *Region) swapPinnedScratch(s senderSlot, toReplace messageIndex) messageIndex {
	for i := uint32(0); ; i = (i + 1) % r.cfg.NumPinners {
		if !r.isPinned(toReplace) {
			return toReplace
		}

		p := r.pinnerSlot(i)
		pinnerScratch := p.scratch()
		if r.isPinned(pinnerScratch) {
			// Swapping with this one gains nothing; try the next.
			continue
		}

		s.storeToReplace(pinnerScratch)
		// Hand the pinner its pinned message (currently our scratch).
		if !p.casScratch(pinnerScratch, toReplace) {
			// Somebody swapped with this pinner first; its new buffer is
			// probably pinned, so move on rather than re-checking it now.
			s.invalidateToReplace()
			continue
		}
		s.storeScratch(pinnerScratch)
		s.invalidateToReplace()
		return pinnerScratch
	}
}
