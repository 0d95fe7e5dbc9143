package ipc

import (
	"math"

	"golang.org/x/sys/unix"
)

// Timestamps are int64 nanoseconds on CLOCK_MONOTONIC and CLOCK_REALTIME.
// Both clocks are machine-global, so values written by one process compare
// meaningfully in another. The minimum int64 is the invalid sentinel, chosen
// so that every real timestamp compares greater than it.
const invalidTimestamp = int64(math.MinInt64)

func monotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC cannot fail on a valid timespec pointer.
		panic(err)
	}
	return ts.Nano()
}

func realtimeNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		panic(err)
	}
	return ts.Nano()
}
