package ipc

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/c2h5oh/datasize"
)

// DumpRegion writes a human-readable rendering of the whole region: header,
// ring slots with generations, every message header with a redzone verdict,
// and the three role tables. With verbose set, payload bytes are included.
// Operator tooling only; walks the region without coordination, so the
// output can be torn on a live channel.
func DumpRegion(w io.Writer, r *Region, verbose bool) {
	cfg := r.cfg

	fmt.Fprintf(w, "region %s {\n", r.f.Name())
	fmt.Fprintf(w, "  setup_mutex = %s\n", formatOwnership(atomicLoadUint32(r.data[offSetupMutex:])))
	fmt.Fprintf(w, "  initialized = %t\n", atomicLoadUint32(r.data[offInitialized:]) != 0)
	fmt.Fprintf(w, "  config {\n")
	fmt.Fprintf(w, "    queue_size        = %d\n", cfg.QueueSize)
	fmt.Fprintf(w, "    message_data_size = %d (%s)\n", cfg.MessageDataSize, datasize.ByteSize(cfg.MessageDataSize).HumanReadable())
	fmt.Fprintf(w, "    num_senders       = %d\n", cfg.NumSenders)
	fmt.Fprintf(w, "    num_pinners       = %d\n", cfg.NumPinners)
	fmt.Fprintf(w, "    num_watchers      = %d\n", cfg.NumWatchers)
	fmt.Fprintf(w, "    region_size       = %d (%s)\n", r.lay.size, datasize.ByteSize(r.lay.size).HumanReadable())
	fmt.Fprintf(w, "  }\n")
	fmt.Fprintf(w, "  next_queue_index = %s\n", formatQueueIndex(r.loadNextQueueIndex()))
	fmt.Fprintf(w, "  uid = %d\n", atomicLoadUint32(r.data[offUID:]))

	fmt.Fprintf(w, "  ring[%d] {\n", cfg.QueueSize)
	for i := uint32(0); i < cfg.QueueSize; i++ {
		fmt.Fprintf(w, "    [%d] -> %s\n", i, formatMessageIndex(r.loadRingSlot(i)))
	}
	fmt.Fprintf(w, "  }\n")

	fmt.Fprintf(w, "  messages[%d] {\n", cfg.NumMessages())
	for i := uint32(0); i < cfg.NumMessages(); i++ {
		m := r.lay.messageAt(r.data, i)
		corrupt := !r.checkBothRedzones(i)

		fmt.Fprintf(w, "    [%d] @0x%x {\n", i, r.lay.messageOffset(i))
		fmt.Fprintf(w, "      queue_index         = %s\n", formatQueueIndex(m.loadQueueIndex(cfg.QueueSize)))
		fmt.Fprintf(w, "      length              = %d\n", m.length())
		fmt.Fprintf(w, "      monotonic_sent_time = %s\n", formatTimestamp(m.monotonicSent()))
		fmt.Fprintf(w, "      realtime_sent_time  = %s\n", formatTimestamp(m.realtimeSent()))
		if corrupt {
			fmt.Fprintf(w, "      pre_redzone  = %s\n", hex.EncodeToString(m.preRedzone()))
			fmt.Fprintf(w, "      // *** DATA REDZONES ARE CORRUPTED ***\n")
			fmt.Fprintf(w, "      post_redzone = %s\n", hex.EncodeToString(m.postRedzone(cfg.MessageDataSize)))
		}
		if verbose {
			n := m.length()
			if corrupt || n > cfg.MessageDataSize {
				n = cfg.MessageDataSize
			}
			payload := m.payload(cfg.MessageDataSize)
			fmt.Fprintf(w, "      data = %s\n", hex.EncodeToString(payload[uint32(len(payload))-n:]))
		}
		fmt.Fprintf(w, "    }\n")
	}
	fmt.Fprintf(w, "  }\n")

	fmt.Fprintf(w, "  senders[%d] {\n", cfg.NumSenders)
	for i := uint32(0); i < cfg.NumSenders; i++ {
		s := r.senderSlot(i)
		fmt.Fprintf(w, "    [%d] ownership=%s scratch=%s to_replace=%s\n",
			i,
			formatOwnership(s.tracker().loadRaw()),
			formatMessageIndex(s.scratch()),
			formatMessageIndex(s.toReplace()),
		)
	}
	fmt.Fprintf(w, "  }\n")

	fmt.Fprintf(w, "  pinners[%d] {\n", cfg.NumPinners)
	for i := uint32(0); i < cfg.NumPinners; i++ {
		p := r.pinnerSlot(i)
		fmt.Fprintf(w, "    [%d] ownership=%s scratch=%s pinned=%s\n",
			i,
			formatOwnership(p.tracker().loadRaw()),
			formatMessageIndex(p.scratch()),
			formatQueueIndex(p.pinned(cfg.QueueSize)),
		)
	}
	fmt.Fprintf(w, "  }\n")

	fmt.Fprintf(w, "  watchers[%d] {\n", cfg.NumWatchers)
	for i := uint32(0); i < cfg.NumWatchers; i++ {
		wt := r.watcherSlot(i)
		fmt.Fprintf(w, "    [%d] ownership=%s pid=%d priority=%d\n",
			i,
			formatOwnership(wt.tracker().loadRaw()),
			wt.pid(),
			wt.priority(),
		)
	}
	fmt.Fprintf(w, "  }\n")
	fmt.Fprintf(w, "}\n")
}

func formatOwnership(raw uint32) string {
	if raw == 0 {
		return "unclaimed"
	}
	s := fmt.Sprintf("tid=%d", raw&futexTIDMask)
	if raw&futexOwnerDied != 0 {
		s += "|OWNER_DIED"
	}
	if raw&futexWaiters != 0 {
		s += "|WAITERS"
	}
	return s
}

func formatQueueIndex(q queueIndex) string {
	if !q.valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d (slot %d)", q.raw(), q.wrapped())
}

func formatMessageIndex(i messageIndex) string {
	if !i.valid() {
		return "invalid"
	}
	return fmt.Sprintf("msg %d (tag 0x%04x)", i.pool(), i.tag())
}

func formatTimestamp(ns int64) string {
	if ns == invalidTimestamp {
		return "invalid"
	}
	return fmt.Sprintf("%d ns", ns)
}
