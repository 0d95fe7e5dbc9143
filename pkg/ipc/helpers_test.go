package ipc_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

// testStorageDuration is short enough that rate-limit tests can wait it out
// and long enough that back-to-back sends inside one test trip it.
const testStorageDuration = 50 * time.Millisecond

func defaultTestConfig() ipc.Config {
	return ipc.Config{
		QueueSize:       4,
		MessageDataSize: 128,
		NumSenders:      2,
		NumPinners:      1,
		NumWatchers:     2,
	}
}

func openTestRegion(t *testing.T, cfg ipc.Config) *ipc.Region {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chan.bus")
	region, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = region.Close() })
	return region
}

func attachTestSender(t *testing.T, region *ipc.Region) *ipc.Sender {
	t.Helper()

	sender, err := ipc.AttachSender(region, testStorageDuration)
	if err != nil {
		t.Fatalf("AttachSender: %v", err)
	}
	t.Cleanup(func() { _ = sender.Close() })
	return sender
}

// mustSend publishes payload and returns its queue index.
func mustSend(t *testing.T, sender *ipc.Sender, payload []byte) uint32 {
	t.Helper()

	result, info := sender.CopyAndSend(payload, nil)
	if result != ipc.SendOK {
		t.Fatalf("CopyAndSend(%q) = %s", payload, result)
	}
	return info.QueueIndex
}

// readPayload reads the message at the index and returns its payload bytes.
func readPayload(t *testing.T, reader *ipc.Reader, region *ipc.Region, index uint32) ([]byte, ipc.Context) {
	t.Helper()

	buf := make([]byte, region.MessageDataSize())
	var ctx ipc.Context
	result := reader.Read(index, &ctx, &ipc.ReadOptions{Data: buf})
	if result != ipc.ReadOK {
		t.Fatalf("Read(%d) = %s", index, result)
	}
	return ctx.Data[len(ctx.Data)-ctx.Size:], ctx
}
