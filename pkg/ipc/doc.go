// Package ipc implements a lockless shared-memory message bus channel.
//
// A channel is one contiguous mmap-backed region shared by cooperating
// processes on the same machine. The region holds a bounded ring of message
// indices, a fixed pool of message buffers, and tables of sender, pinner and
// watcher slots. Publishing swaps a privately-owned scratch buffer into the
// ring with a single compare-and-swap; the evicted buffer becomes the new
// scratch. Readers hold no slot; their only writes are idempotent repairs
// (settling a message's send timestamps, advancing a lagging publish counter),
// and they detect concurrent overwrites by re-checking the message's queue
// index after copying.
//
// # Basic Usage
//
//	region, err := ipc.Open(ipc.Options{
//	    Path: "/dev/shm/imu.bus",
//	    Config: ipc.Config{
//	        QueueSize:       64,
//	        MessageDataSize: 1024,
//	        NumSenders:      2,
//	        NumPinners:      1,
//	        NumWatchers:     2,
//	    },
//	})
//	defer region.Close()
//
//	sender, err := ipc.AttachSender(region, 100*time.Millisecond)
//	data := sender.Data() // a message occupies the tail of the payload area
//	copy(data[len(data)-len(payload):], payload)
//	result, info := sender.Send(len(payload), nil)
//
//	reader := ipc.NewReader(region)
//	latest, ok := reader.LatestIndex()
//	var ctx ipc.Context
//	result := reader.Read(latest, &ctx, nil)
//
// # Concurrency
//
// Send, Read, LatestIndex and PinIndex perform no syscalls other than clock
// reads, allocate nothing, and never block. Any number of processes may use
// them concurrently; coordination is entirely via atomics on the shared
// region. The only blocking lock is the in-region setup mutex, held while
// attaching or releasing role slots, never on the data path.
//
// A role slot (sender, pinner, watcher) is owned by the OS thread of the
// goroutine that attached it; the attaching goroutine is pinned to its thread
// until Close. If the owning thread dies, the kernel-style owner-died bit is
// set during the next attach's recovery sweep and the slot's in-flight state
// is rolled forward or backward to a consistent point.
//
// # Error Handling
//
// Attach-time failures are errors classified with errors.Is (ErrIncompatible,
// ErrWrongUser, ErrNoSlots, ErrInvalidInput). A region whose crash recovery
// cannot make progress makes the attach panic; no path returns ErrCorrupt.
// Hot-path outcomes are plain
// result enums (SendResult, ReadResult); no error value is ever constructed
// on the data path.
package ipc
