package ipc

import "github.com/google/uuid"

// Context is a consistent snapshot of one message, filled in by Read. The
// struct is caller-owned and reused across reads; Read never allocates.
type Context struct {
	// QueueIndex is the publication slot the message was read from.
	QueueIndex uint32

	// MonotonicSentTime and RealtimeSentTime are the official send times.
	MonotonicSentTime int64
	RealtimeSentTime  int64

	// Remote fields for forwarded messages. RemoteQueueIndex equals
	// QueueIndex for locally-originated messages.
	MonotonicRemoteTime         int64
	MonotonicRemoteTransmitTime int64
	RealtimeRemoteTime          int64
	RemoteQueueIndex            uint32

	// SourceBootUUID identifies the boot of the originating machine.
	SourceBootUUID uuid.UUID

	// Size is the message length in bytes.
	Size int

	// Data is the copied payload when ReadOptions.Data was supplied, trimmed
	// to the full payload capacity (the message occupies its tail; see
	// Sender.CopyAndSend). Nil when no copy was requested.
	Data []byte

	// BufferIndex is the pool position holding the message, for zero-copy
	// consumers pairing Read with a Pinner. Only meaningful while the
	// message is pinned or until the queue wraps.
	BufferIndex int
}

// ReadOptions tune a single Read call.
type ReadOptions struct {
	// Filter, when non-nil, is called with the snapshot before the payload
	// is copied; returning false makes Read report ReadFiltered. The
	// context passed to the filter has no Data.
	Filter func(*Context) bool

	// Data, when non-nil, receives a copy of the full payload area. Must be
	// at least MessageDataSize bytes.
	Data []byte
}

// Reader reads published messages. Readers are stateless views over the
// region: their only writes to shared memory are idempotent repairs (timestamp
// settlement in Read, the lagging-counter CAS in LatestIndex), they need no
// slot, and any number may run concurrently.
type Reader struct {
	r *Region
}

func NewReader(r *Region) *Reader {
	return &Reader{r: r}
}

// LatestIndex returns the queue index of the most recent publication, or
// false if nothing has been published. It repairs a lagging shared counter
// left behind by a sender that died (or stalled) between installing a
// message and advancing the counter, so watchers and pollers agree on when a
// message exists.
func (rd *Reader) LatestIndex() (uint32, bool) {
	r := rd.r
	queueSize := r.cfg.QueueSize

	actualNext := r.loadNextQueueIndex()
	next := actualNext.zeroOrValid()

	// If the slot the counter points at already holds a message published at
	// the counter's own index, the counter is one behind; fix it.
	toReplace := r.loadRingSlot(next.wrapped())
	if toReplace.plausible(next) {
		incremented := next.increment()
		r.casNextQueueIndex(actualNext, incremented)
		actualNext = incremented
	}

	if actualNext.valid() {
		return actualNext.decrementBy(1).raw(), true
	}
	return 0, false
}

// Read snapshots the message at the requested queue index into ctx.
//
// ReadNothingNew means the index has not been published yet; ReadTooOld
// means it has already been overwritten; ReadOverwrote means a sender reused
// the buffer mid-read and the snapshot must be discarded. Read performs no
// allocation and never blocks.
func (rd *Reader) Read(requested uint32, ctx *Context, opts *ReadOptions) ReadResult {
	r := rd.r
	queueSize := r.cfg.QueueSize

	queueIdx := queueIndexZero(queueSize).incrementBy(requested)

	msgIdx := r.loadRingSlot(queueIdx.wrapped())
	m := r.messageAt(msgIdx)

	for {
		// The message must claim the index we asked for; anything else tells
		// us where we stand.
		starting := m.loadQueueIndex(queueSize)
		if starting == queueIdx {
			break
		}

		// Exactly one generation old: this generation's publish at our slot
		// has not happened.
		if starting == queueIdx.decrementBy(queueSize) {
			return ReadNothingNew
		}

		// The slot may have been republished between our two loads. Re-read
		// it; if the message changed, start over with the new one.
		reloaded := r.loadRingSlot(queueIdx.wrapped())
		if reloaded != msgIdx {
			msgIdx = reloaded
			m = r.messageAt(msgIdx)
			continue
		}

		// Stable message, wrong index. A valid index means the queue lapped
		// us. An invalid one means nothing was ever published here: asking
		// within the first generation is "not yet", beyond it is ancient
		// history.
		if starting.valid() {
			return ReadTooOld
		}
		if requested < queueSize {
			return ReadNothingNew
		}
		return ReadTooOld
	}

	// Settle the send times; a reader may legitimately get here before the
	// sender's own population step.
	mono, rt := m.setSendTimestamps()

	ctx.QueueIndex = queueIdx.raw()
	ctx.MonotonicSentTime = mono
	ctx.RealtimeSentTime = rt
	ctx.MonotonicRemoteTime = m.monotonicRemote()
	ctx.MonotonicRemoteTransmitTime = m.monotonicRemoteTx()
	ctx.RealtimeRemoteTime = m.realtimeRemote()
	if remote := m.remoteQueueIndex(); remote == remoteQueueIndexUnset {
		ctx.RemoteQueueIndex = ctx.QueueIndex
	} else {
		ctx.RemoteQueueIndex = remote
	}
	ctx.SourceBootUUID = m.sourceBootUUID()
	ctx.Size = int(m.length())
	ctx.Data = nil
	ctx.BufferIndex = int(msgIdx.pool())

	if opts != nil && opts.Filter != nil {
		// The header fields above were read without protection; confirm the
		// message did not move on before trusting them.
		if m.loadQueueIndex(queueSize) != queueIdx {
			return ReadOverwrote
		}
		if !opts.Filter(ctx) {
			return ReadFiltered
		}
	}

	copied := false
	if opts != nil && opts.Data != nil {
		// Copy the whole payload area, not just Size bytes: the length field
		// is as vulnerable to the overwrite race as the data, and a fixed
		// copy keeps the loop deterministic.
		copy(opts.Data[:r.cfg.MessageDataSize], m.payload(r.cfg.MessageDataSize))
		ctx.Data = opts.Data[:r.cfg.MessageDataSize]
		copied = true
	}

	// Final coherence check over everything read since the last one.
	if copied || opts == nil || opts.Filter == nil {
		if m.loadQueueIndex(queueSize) != queueIdx {
			ctx.Data = nil
			return ReadOverwrote
		}
	}

	return ReadOK
}
