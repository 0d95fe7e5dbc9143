package ipc

import "fmt"

// Region layout.
//
// The region is a single contiguous mapping:
//
//	header    setup mutex, initialized flag, config, next queue index, uid
//	ring      queueSize atomic message indices
//	pool      numMessages message slots (queueSize + numSenders + numPinners)
//	watchers  numWatchers slots
//	senders   numSenders slots
//	pinners   numPinners slots
//
// Every section starts cache-line aligned and every atomic field is naturally
// aligned. Once the initialized flag is set, nothing in the header changes
// except the ring, next queue index, and role slot contents.

// dataAlignment is the alignment of sections and payloads (one cache line).
const dataAlignment = 64

// Header field offsets.
const (
	offSetupMutex     = 0  // 16-byte ownership record
	offInitialized    = 16 // uint32, stored last during init
	offNumWatchers    = 20 // uint32
	offNumSenders     = 24 // uint32
	offNumPinners     = 28 // uint32
	offQueueSize      = 32 // uint32
	offMessageData    = 36 // uint32
	offNextQueueIndex = 40 // atomic uint32 (queueIndex raw)
	offUID            = 44 // uint32
	headerSize        = dataAlignment
)

// Role slot layouts. Each slot embeds a 16-byte ownership record first.
const (
	watcherSlotSize = 32
	offWatcherPID   = trackerSize     // uint32
	offWatcherPrio  = trackerSize + 4 // int32

	senderSlotSize   = 32
	offSenderScratch = trackerSize     // atomic uint32 (messageIndex)
	offSenderReplace = trackerSize + 4 // atomic uint32 (messageIndex)

	pinnerSlotSize   = 32
	offPinnerScratch = trackerSize     // atomic uint32 (messageIndex)
	offPinnerPinned  = trackerSize + 4 // atomic uint32 (queueIndex raw)
)

// Config describes a channel. All five counts are fixed at initialization;
// every subsequent attacher must present the identical configuration.
type Config struct {
	// QueueSize is the ring length: how many past messages stay addressable.
	QueueSize uint32
	// MessageDataSize is the payload capacity of each message, in bytes.
	MessageDataSize uint32
	// NumSenders, NumPinners, NumWatchers size the role tables.
	NumSenders  uint32
	NumPinners  uint32
	NumWatchers uint32
}

// NumMessages returns the message pool size: one buffer per ring slot plus a
// scratch buffer per sender and pinner, so a sender or pinner always has a
// free buffer to swap in.
func (c Config) NumMessages() uint32 {
	return c.QueueSize + c.NumSenders + c.NumPinners
}

func (c Config) validate() error {
	if c.QueueSize < 2 {
		return fmt.Errorf("queue size must be >= 2, got %d: %w", c.QueueSize, ErrInvalidInput)
	}
	if c.QueueSize > maxQueueSize {
		return fmt.Errorf("queue size %d exceeds maximum %d: %w", c.QueueSize, maxQueueSize, ErrInvalidInput)
	}
	if c.MessageDataSize < 1 {
		return fmt.Errorf("message data size must be >= 1: %w", ErrInvalidInput)
	}
	if c.MessageDataSize > maxMessageDataSize {
		return fmt.Errorf("message data size %d exceeds maximum %d: %w", c.MessageDataSize, maxMessageDataSize, ErrInvalidInput)
	}
	if c.NumSenders < 1 {
		return fmt.Errorf("at least one sender slot is required: %w", ErrInvalidInput)
	}
	if c.NumSenders > maxSenders {
		return fmt.Errorf("num senders %d exceeds maximum %d: %w", c.NumSenders, maxSenders, ErrInvalidInput)
	}
	if c.NumPinners > maxPinners {
		return fmt.Errorf("num pinners %d exceeds maximum %d: %w", c.NumPinners, maxPinners, ErrInvalidInput)
	}
	if c.NumWatchers > maxWatchers {
		return fmt.Errorf("num watchers %d exceeds maximum %d: %w", c.NumWatchers, maxWatchers, ErrInvalidInput)
	}
	if c.NumMessages() > maxMessages {
		return fmt.Errorf("queue size + senders + pinners = %d exceeds maximum %d: %w", c.NumMessages(), maxMessages, ErrInvalidInput)
	}
	if size := regionSize(c); size > maxRegionSizeBytes {
		return fmt.Errorf("region size %d exceeds maximum %d: %w", size, maxRegionSizeBytes, ErrInvalidInput)
	}
	return nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// messageStride returns the size of one pool slot for the given payload
// capacity: header, pre-redzone, payload, post-redzone, rounded up so the
// next slot stays cache-line aligned.
func messageStride(dataSize uint32) uint64 {
	return alignUp(msgPayloadOffset+uint64(dataSize)+redzoneSize, dataAlignment)
}

// layout holds the byte offsets of each section, derived from a Config.
type layout struct {
	cfg Config

	ringOff     uint64
	poolOff     uint64
	msgStride   uint64
	watchersOff uint64
	sendersOff  uint64
	pinnersOff  uint64
	size        uint64
}

func computeLayout(cfg Config) layout {
	l := layout{cfg: cfg}
	l.ringOff = headerSize
	l.poolOff = alignUp(l.ringOff+4*uint64(cfg.QueueSize), dataAlignment)
	l.msgStride = messageStride(cfg.MessageDataSize)
	l.watchersOff = l.poolOff + l.msgStride*uint64(cfg.NumMessages())
	l.sendersOff = alignUp(l.watchersOff+watcherSlotSize*uint64(cfg.NumWatchers), dataAlignment)
	l.pinnersOff = alignUp(l.sendersOff+senderSlotSize*uint64(cfg.NumSenders), dataAlignment)
	l.size = alignUp(l.pinnersOff+pinnerSlotSize*uint64(cfg.NumPinners), dataAlignment)
	return l
}

func regionSize(cfg Config) uint64 {
	return computeLayout(cfg).size
}

// RegionSize returns the exact byte size of a region for the given
// configuration. Attach refuses files whose size differs.
func RegionSize(cfg Config) (uint64, error) {
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	return regionSize(cfg), nil
}

// Section accessors. All return sub-slice views over the mapping.

func (l layout) ringSlot(data []byte, slot uint32) []byte {
	return data[l.ringOff+4*uint64(slot):]
}

func (l layout) messageAt(data []byte, pool uint32) message {
	off := l.poolOff + l.msgStride*uint64(pool)
	return message{b: data[off : off+l.msgStride]}
}

// messageOffset returns the region offset of a pool slot, for redzone
// pattern derivation and debug output.
func (l layout) messageOffset(pool uint32) uint64 {
	return l.poolOff + l.msgStride*uint64(pool)
}

func (l layout) watcherAt(data []byte, i uint32) []byte {
	off := l.watchersOff + watcherSlotSize*uint64(i)
	return data[off : off+watcherSlotSize]
}

func (l layout) senderAt(data []byte, i uint32) []byte {
	off := l.sendersOff + senderSlotSize*uint64(i)
	return data[off : off+senderSlotSize]
}

func (l layout) pinnerAt(data []byte, i uint32) []byte {
	off := l.pinnersOff + pinnerSlotSize*uint64(i)
	return data[off : off+pinnerSlotSize]
}
