package ipc_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

func Test_Open_Is_Idempotent_Across_Attaches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chan.bus")
	cfg := defaultTestConfig()

	first, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Close() }()

	second, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	defer func() { _ = second.Close() }()

	// Messages published through one handle are visible through the other.
	sender, err := ipc.AttachSender(first, testStorageDuration)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sender.Close() }()

	mustSend(t, sender, []byte("shared"))

	reader := ipc.NewReader(second)
	payload, _ := readPayload(t, reader, second, 0)
	if string(payload) != "shared" {
		t.Fatalf("cross-handle read = %q", payload)
	}
}

func Test_Open_Rejects_Mismatched_Config(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chan.bus")
	cfg := defaultTestConfig()

	region, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = region.Close() }()

	// Same region size, different shape: trade a sender slot for a pinner
	// slot so only the logical config check can catch it.
	other := cfg
	other.NumSenders--
	other.NumPinners++

	if _, err := ipc.Open(ipc.Options{Path: path, Config: other}); !errors.Is(err, ipc.ErrIncompatible) {
		t.Fatalf("mismatched config: got %v, want ErrIncompatible", err)
	}
}

func Test_Open_Rejects_Wrong_File_Size(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chan.bus")
	cfg := defaultTestConfig()

	// A pre-existing file of the wrong size is some other channel (or
	// garbage); attaching must refuse rather than remap.
	if err := os.WriteFile(path, make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ipc.Open(ipc.Options{Path: path, Config: cfg}); !errors.Is(err, ipc.ErrIncompatible) {
		t.Fatalf("wrong-size file: got %v, want ErrIncompatible", err)
	}
}

func Test_Open_Rejects_Foreign_UID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chan.bus")
	cfg := defaultTestConfig()

	region, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = region.Close() }()

	// Rewrite the recorded owner to someone else; re-verification must fail
	// fatally, since signal delivery between mismatched uids cannot work.
	region.TestSetUID(54321)

	if err := region.TestVerifyAttach(); !errors.Is(err, ipc.ErrWrongUser) {
		t.Fatalf("foreign uid: got %v, want ErrWrongUser", err)
	}
}

func Test_Region_Survives_Reopen_After_All_Users_Exit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chan.bus")
	cfg := defaultTestConfig()

	region, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	sender, err := ipc.AttachSender(region, testStorageDuration)
	if err != nil {
		t.Fatal(err)
	}
	mustSend(t, sender, []byte("persisted"))
	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}
	if err := region.Close(); err != nil {
		t.Fatal(err)
	}

	// Everything detached; a new attacher finds the channel intact.
	reopened, err := ipc.Open(ipc.Options{Path: path, Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	reader := ipc.NewReader(reopened)
	payload, _ := readPayload(t, reader, reopened, 0)
	if string(payload) != "persisted" {
		t.Fatalf("reopened read = %q", payload)
	}
}

func Test_Open_Requires_Path_And_Valid_Config(t *testing.T) {
	t.Parallel()

	if _, err := ipc.Open(ipc.Options{Config: defaultTestConfig()}); !errors.Is(err, ipc.ErrInvalidInput) {
		t.Fatalf("empty path: got %v, want ErrInvalidInput", err)
	}

	bad := defaultTestConfig()
	bad.QueueSize = 0
	if _, err := ipc.Open(ipc.Options{Path: filepath.Join(t.TempDir(), "x.bus"), Config: bad}); !errors.Is(err, ipc.ErrInvalidInput) {
		t.Fatalf("invalid config: got %v, want ErrInvalidInput", err)
	}
}
