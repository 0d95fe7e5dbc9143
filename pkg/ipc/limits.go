package ipc

// Hardcoded implementation limits.
//
// These limits are intentionally generous; they exist primarily to:
//   - keep the message pool addressable by the 16-bit half of a MessageIndex
//   - keep arithmetic safely away from overflow boundaries
//   - bound resource usage for configurations the project does not test
//
// All limit violations are treated as configuration errors and return
// ErrInvalidInput from Open.
const (
	// Maximum number of messages in the pool. A MessageIndex encodes the pool
	// position in 16 bits, and the all-ones value is part of the invalid
	// sentinel encoding.
	maxMessages = 1<<16 - 1

	// Maximum ring length. The pool must also hold one scratch message per
	// sender and pinner, so the ring itself gets a little less than the pool
	// bound.
	maxQueueSize = maxMessages - maxSenders - maxPinners

	// Maximum role table sizes. Each attached role pins an OS thread in some
	// process; hundreds is already far outside any sane deployment.
	maxSenders  = 1024
	maxPinners  = 1024
	maxWatchers = 1024

	// Maximum payload capacity per message (bytes).
	maxMessageDataSize = 64 << 20 // 64 MiB

	// Maximum allowed region size (bytes). A guardrail, not a RAM limit;
	// mmap does not fault the whole file in.
	maxRegionSizeBytes = uint64(1) << 40 // 1 TiB
)
