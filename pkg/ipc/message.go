package ipc

import (
	"github.com/google/uuid"
)

// Message slot layout. Offsets are within one pool slot; the slot itself is
// cache-line aligned relative to the region start.
const (
	offMsgQueueIndex        = 0  // atomic uint32 (queueIndex raw)
	offMsgLength            = 4  // uint32
	offMsgMonotonicSent     = 8  // atomic int64
	offMsgRealtimeSent      = 16 // atomic int64
	offMsgMonotonicRemote   = 24 // int64
	offMsgMonotonicRemoteTx = 32 // int64
	offMsgRealtimeRemote    = 40 // int64
	offMsgRemoteQueueIndex  = 48 // uint32
	offMsgSourceBootUUID    = 52 // [16]byte
	msgHeaderSize           = 68
	redzoneSize             = 16
	msgPayloadOffset        = 128 // alignUp(msgHeaderSize+redzoneSize, dataAlignment)
	msgPreRedzoneOffset     = msgPayloadOffset - redzoneSize
	remoteQueueIndexUnset   = ^uint32(0)
)

// message is a view over one pool slot.
type message struct {
	b []byte // the full slot, stride bytes
}

func (m message) queueIndexRaw() uint32 { return atomicLoadUint32(m.b[offMsgQueueIndex:]) }

func (m message) loadQueueIndex(queueSize uint32) queueIndex {
	return queueIndexFromRaw(m.queueIndexRaw(), queueSize)
}

func (m message) storeQueueIndex(q queueIndex) {
	atomicStoreUint32(m.b[offMsgQueueIndex:], q.raw())
}

func (m message) invalidateQueueIndex() {
	atomicStoreUint32(m.b[offMsgQueueIndex:], queueIndexSentinel)
}

func (m message) length() uint32     { return atomicLoadUint32(m.b[offMsgLength:]) }
func (m message) setLength(n uint32) { atomicStoreUint32(m.b[offMsgLength:], n) }

func (m message) monotonicSent() int64 { return atomicLoadInt64(m.b[offMsgMonotonicSent:]) }
func (m message) realtimeSent() int64  { return atomicLoadInt64(m.b[offMsgRealtimeSent:]) }

func (m message) invalidateSendTimestamps() {
	// Reverse of population order: realtime first, so the monotonic time is
	// valid whenever the realtime time is.
	atomicStoreInt64(m.b[offMsgRealtimeSent:], invalidTimestamp)
	atomicStoreInt64(m.b[offMsgMonotonicSent:], invalidTimestamp)
}

// setSendTimestamps populates the send times via compare-and-swap from the
// invalid sentinel and returns the winning values. Both the sender and any
// reader racing it call this; whoever gets there first samples the clocks and
// everyone observes the same official times. If the realtime time is already
// populated the stored pair is returned without touching the clocks, which
// also keeps a long-stalled reader from resurrecting stale samples into a
// recycled buffer unless the entire ring wrapped underneath it.
func (m message) setSendTimestamps() (monotonic, realtime int64) {
	if rt := m.realtimeSent(); rt != invalidTimestamp {
		return m.monotonicSent(), rt
	}
	monotonicNowNs := monotonicNow()
	realtimeNowNs := realtimeNow()
	monotonic = atomicCASInt64(m.b[offMsgMonotonicSent:], invalidTimestamp, monotonicNowNs)
	realtime = atomicCASInt64(m.b[offMsgRealtimeSent:], invalidTimestamp, realtimeNowNs)
	return monotonic, realtime
}

func (m message) monotonicRemote() int64   { return atomicLoadInt64(m.b[offMsgMonotonicRemote:]) }
func (m message) monotonicRemoteTx() int64 { return atomicLoadInt64(m.b[offMsgMonotonicRemoteTx:]) }
func (m message) realtimeRemote() int64    { return atomicLoadInt64(m.b[offMsgRealtimeRemote:]) }

func (m message) setRemoteTimes(monotonic, monotonicTx, realtime int64) {
	atomicStoreInt64(m.b[offMsgMonotonicRemote:], monotonic)
	atomicStoreInt64(m.b[offMsgMonotonicRemoteTx:], monotonicTx)
	atomicStoreInt64(m.b[offMsgRealtimeRemote:], realtime)
}

func (m message) remoteQueueIndex() uint32 { return atomicLoadUint32(m.b[offMsgRemoteQueueIndex:]) }

func (m message) setRemoteQueueIndex(v uint32) {
	atomicStoreUint32(m.b[offMsgRemoteQueueIndex:], v)
}

func (m message) sourceBootUUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], m.b[offMsgSourceBootUUID:offMsgSourceBootUUID+16])
	return u
}

func (m message) setSourceBootUUID(u uuid.UUID) {
	copy(m.b[offMsgSourceBootUUID:offMsgSourceBootUUID+16], u[:])
}

// payload returns the full-capacity data area.
func (m message) payload(dataSize uint32) []byte {
	return m.b[msgPayloadOffset : msgPayloadOffset+int(dataSize)]
}

func (m message) preRedzone() []byte {
	return m.b[msgPreRedzoneOffset:msgPayloadOffset]
}

func (m message) postRedzone(dataSize uint32) []byte {
	start := msgPayloadOffset + int(dataSize)
	return m.b[start : start+redzoneSize]
}

// redzoneStart derives the first guard byte for a redzone from its byte
// offset inside the region. Tying the pattern to the offset makes every
// redzone distinct, which catches out-of-bounds copies from one slot into
// another, not just scribbles.
func redzoneStart(regionOffset int) byte {
	return byte(regionOffset&0xff) ^ byte((regionOffset>>8)&0xff)
}

// fillRedzone writes the expected pattern; regionOffset is the redzone's
// offset from the start of the region.
func fillRedzone(zone []byte, regionOffset int) {
	v := redzoneStart(regionOffset)
	for i := range zone {
		zone[i] = v
		v++
	}
}

// checkRedzone reports whether the guard bytes are intact.
func checkRedzone(zone []byte, regionOffset int) bool {
	v := redzoneStart(regionOffset)
	for i := range zone {
		if zone[i] != v {
			return false
		}
		v++
	}
	return true
}
