// Package buscfg loads bus channel definitions from a HuJSON file.
//
// The format allows comments and trailing commas:
//
//	{
//	    // Where the region files live. Defaults to /dev/shm.
//	    "region_dir": "/dev/shm",
//	    "channels": [
//	        {
//	            "name": "imu",
//	            "queue_size": 64,
//	            "message_data_size": "1KB",
//	            "num_senders": 2,
//	            "num_pinners": 1,
//	            "num_watchers": 2,
//	            "storage_duration": "100ms",
//	        },
//	    ],
//	}
package buscfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/tailscale/hujson"

	"github.com/hedronlab/shmbus/pkg/fs"
	"github.com/hedronlab/shmbus/pkg/ipc"
)

// DefaultRegionDir is where channel region files are created when the config
// does not say otherwise.
const DefaultRegionDir = "/dev/shm"

var errNoChannels = errors.New("buscfg: no channels defined")

// Bus is a parsed bus configuration.
type Bus struct {
	RegionDir string
	Channels  []Channel
}

// Channel is one channel definition.
type Channel struct {
	Name            string
	Config          ipc.Config
	StorageDuration time.Duration
}

// RegionPath returns the region file path for the channel.
func (c Channel) RegionPath(regionDir string) string {
	return filepath.Join(regionDir, c.Name+".bus")
}

// rawBus is the file schema before validation.
type rawBus struct {
	RegionDir string       `json:"region_dir"`
	Channels  []rawChannel `json:"channels"`
}

type rawChannel struct {
	Name            string `json:"name"`
	QueueSize       uint32 `json:"queue_size"`
	MessageDataSize string `json:"message_data_size"`
	NumSenders      uint32 `json:"num_senders"`
	NumPinners      uint32 `json:"num_pinners"`
	NumWatchers     uint32 `json:"num_watchers"`
	StorageDuration string `json:"storage_duration"`
}

// Load reads and validates a bus configuration file.
func Load(fsys fs.FS, path string) (Bus, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Bus{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates a bus configuration from HuJSON bytes.
func Parse(data []byte) (Bus, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Bus{}, fmt.Errorf("standardize config: %w", err)
	}

	var raw rawBus
	if err := json.Unmarshal(std, &raw); err != nil {
		return Bus{}, fmt.Errorf("parse config: %w", err)
	}

	if len(raw.Channels) == 0 {
		return Bus{}, errNoChannels
	}

	bus := Bus{RegionDir: raw.RegionDir}
	if bus.RegionDir == "" {
		bus.RegionDir = DefaultRegionDir
	}

	seen := make(map[string]bool, len(raw.Channels))
	for _, rc := range raw.Channels {
		ch, err := rc.validate()
		if err != nil {
			return Bus{}, fmt.Errorf("channel %q: %w", rc.Name, err)
		}
		if seen[ch.Name] {
			return Bus{}, fmt.Errorf("channel %q defined twice", ch.Name)
		}
		seen[ch.Name] = true
		bus.Channels = append(bus.Channels, ch)
	}

	return bus, nil
}

func (rc rawChannel) validate() (Channel, error) {
	if rc.Name == "" {
		return Channel{}, errors.New("name is required")
	}
	if rc.Name != filepath.Base(rc.Name) {
		return Channel{}, fmt.Errorf("name %q must not contain path separators", rc.Name)
	}

	var msgSize datasize.ByteSize
	if err := msgSize.UnmarshalText([]byte(rc.MessageDataSize)); err != nil {
		return Channel{}, fmt.Errorf("message_data_size %q: %w", rc.MessageDataSize, err)
	}

	storage, err := time.ParseDuration(rc.StorageDuration)
	if err != nil {
		return Channel{}, fmt.Errorf("storage_duration %q: %w", rc.StorageDuration, err)
	}
	if storage <= 0 {
		return Channel{}, fmt.Errorf("storage_duration %q must be positive", rc.StorageDuration)
	}

	cfg := ipc.Config{
		QueueSize:       rc.QueueSize,
		MessageDataSize: uint32(msgSize.Bytes()),
		NumSenders:      rc.NumSenders,
		NumPinners:      rc.NumPinners,
		NumWatchers:     rc.NumWatchers,
	}

	// Surface layout problems (zero queue, oversized payload, ...) at config
	// load rather than first Open.
	if _, err := ipc.RegionSize(cfg); err != nil {
		return Channel{}, err
	}

	return Channel{Name: rc.Name, Config: cfg, StorageDuration: storage}, nil
}
