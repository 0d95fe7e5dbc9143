package ipc_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

func Test_PinIndex_Holds_Message_Payload_Through_Queue_Wrap(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.QueueSize = 4
	region := openTestRegion(t, cfg)
	sender := attachTestSender(t, region)

	pinner, err := ipc.AttachPinner(region)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pinner.Close() })

	mustSend(t, sender, []byte("precious"))

	buffer, ok := pinner.PinIndex(0)
	if !ok {
		t.Fatal("PinIndex(0) failed on a live message")
	}

	// Drive the ring around twice. Every publish would love to reuse the
	// pinned buffer; none may.
	for i := 0; i < 2*int(cfg.QueueSize); i++ {
		time.Sleep(testStorageDuration + time.Millisecond)
		mustSend(t, sender, []byte(fmt.Sprintf("filler-%d", i)))
	}

	data := pinner.Data()
	got := data[len(data)-len("precious"):]
	if !bytes.Equal(got, []byte("precious")) {
		t.Fatalf("pinned payload = %q, want %q", got, "precious")
	}
	if data2 := region.TestMessagePayload(uint32(buffer)); &data2[0] != &data[0] {
		t.Error("pinner is not reading the buffer PinIndex reported")
	}

	// Fresh readers correctly see index 0 as gone.
	reader := ipc.NewReader(region)
	var ctx ipc.Context
	if result := reader.Read(0, &ctx, nil); result != ipc.ReadTooOld {
		t.Fatalf("Read(0) with pin held = %s, want too-old", result)
	}
}

func Test_PinIndex_Fails_On_Overwritten_Index_And_Backs_Out(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.QueueSize = 2
	region := openTestRegion(t, cfg)
	sender := attachTestSender(t, region)

	pinner, err := ipc.AttachPinner(region)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pinner.Close() })

	// Lap the ring so index 0 is gone.
	for i := 0; i < 3; i++ {
		mustSend(t, sender, []byte{byte(i)})
		time.Sleep(testStorageDuration + time.Millisecond)
	}

	if _, ok := pinner.PinIndex(0); ok {
		t.Fatal("pinned an index that wrapped away")
	}

	// The failed pin must leave no intent behind that would make senders
	// rotate buffers with us.
	_, pinned, _ := region.TestPinnerState(0)
	if pinned != ipc.QueueIndexInvalidRaw {
		t.Fatalf("pinned field = %#x after failed pin, want invalid", pinned)
	}
}

func Test_Pinned_Buffer_Rotates_Back_Into_Circulation_After_Unpin(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.QueueSize = 2
	region := openTestRegion(t, cfg)
	sender := attachTestSender(t, region)

	pinner, err := ipc.AttachPinner(region)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pinner.Close() })

	mustSend(t, sender, []byte("pinme"))
	if _, ok := pinner.PinIndex(0); !ok {
		t.Fatal("pin failed")
	}
	pinner.Unpin()

	// With the pin gone the channel must keep cycling through all buffers
	// indefinitely.
	for i := 0; i < 3*int(cfg.NumMessages()); i++ {
		time.Sleep(testStorageDuration + time.Millisecond)
		mustSend(t, sender, []byte{byte(i)})
	}
}

func Test_AttachPinner_Returns_ErrNoSlots_When_Table_Is_Full(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.NumPinners = 1
	region := openTestRegion(t, cfg)

	p1, err := ipc.AttachPinner(region)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p1.Close() })

	if _, err := ipc.AttachPinner(region); !errors.Is(err, ipc.ErrNoSlots) {
		t.Fatalf("second pinner attach: got %v, want ErrNoSlots", err)
	}
}
