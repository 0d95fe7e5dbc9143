package buscfg

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

const sampleConfig = `{
    // Comments and trailing commas are allowed.
    "region_dir": "/run/bus",
    "channels": [
        {
            "name": "imu",
            "queue_size": 64,
            "message_data_size": "1KB",
            "num_senders": 2,
            "num_pinners": 1,
            "num_watchers": 2,
            "storage_duration": "100ms",
        },
        {
            "name": "camera",
            "queue_size": 8,
            "message_data_size": "4MB",
            "num_senders": 1,
            "num_pinners": 2,
            "num_watchers": 1,
            "storage_duration": "1s",
        },
    ],
}`

func Test_Parse_Reads_HuJSON_With_Comments_And_Sizes(t *testing.T) {
	t.Parallel()

	bus, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	want := Bus{
		RegionDir: "/run/bus",
		Channels: []Channel{
			{
				Name: "imu",
				Config: ipc.Config{
					QueueSize:       64,
					MessageDataSize: 1024,
					NumSenders:      2,
					NumPinners:      1,
					NumWatchers:     2,
				},
				StorageDuration: 100 * time.Millisecond,
			},
			{
				Name: "camera",
				Config: ipc.Config{
					QueueSize:       8,
					MessageDataSize: 4 << 20,
					NumSenders:      1,
					NumPinners:      2,
					NumWatchers:     1,
				},
				StorageDuration: time.Second,
			},
		},
	}
	if diff := cmp.Diff(want, bus); diff != "" {
		t.Fatalf("parsed config mismatch (-want +got):\n%s", diff)
	}

	if got := bus.Channels[0].RegionPath(bus.RegionDir); got != "/run/bus/imu.bus" {
		t.Fatalf("RegionPath = %q", got)
	}
}

func Test_Parse_Defaults_Region_Dir(t *testing.T) {
	t.Parallel()

	bus, err := Parse([]byte(`{"channels":[{"name":"a","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if bus.RegionDir != DefaultRegionDir {
		t.Fatalf("RegionDir = %q, want %q", bus.RegionDir, DefaultRegionDir)
	}
}

func Test_Parse_Rejects_Bad_Configs(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no channels":       `{"channels":[]}`,
		"missing name":      `{"channels":[{"queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"}]}`,
		"path in name":      `{"channels":[{"name":"../evil","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"}]}`,
		"bad size":          `{"channels":[{"name":"a","queue_size":4,"message_data_size":"lots","num_senders":1,"storage_duration":"10ms"}]}`,
		"bad duration":      `{"channels":[{"name":"a","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"soon"}]}`,
		"zero duration":     `{"channels":[{"name":"a","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"0s"}]}`,
		"zero queue":        `{"channels":[{"name":"a","queue_size":0,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"}]}`,
		"no senders":        `{"channels":[{"name":"a","queue_size":4,"message_data_size":"64B","storage_duration":"10ms"}]}`,
		"duplicate channel": `{"channels":[{"name":"a","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"},{"name":"a","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"10ms"}]}`,
		"not json":          `{channels`,
	}
	for name, cfg := range cases {
		if _, err := Parse([]byte(cfg)); err == nil {
			t.Errorf("%s: parse succeeded", name)
		}
	}
}

func Test_Parse_Error_Names_The_Offending_Channel(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"channels":[{"name":"gps","queue_size":4,"message_data_size":"64B","num_senders":1,"storage_duration":"bogus"}]}`))
	if err == nil || !strings.Contains(err.Error(), `"gps"`) {
		t.Fatalf("error %v does not name the channel", err)
	}
}
