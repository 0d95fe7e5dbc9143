package main

import (
	"fmt"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hedronlab/shmbus/internal/buscfg"
	"github.com/hedronlab/shmbus/pkg/fs"
	"github.com/hedronlab/shmbus/pkg/ipc"
)

// channelFlags are the --config/--channel pair shared by the commands that
// operate on a single channel.
type channelFlags struct {
	configPath string
	channel    string
}

func (cf *channelFlags) register(flagSet *flag.FlagSet) {
	flagSet.StringVar(&cf.configPath, "config", "bus.hujson", "bus configuration file")
	flagSet.StringVar(&cf.channel, "channel", "", "channel name from the configuration")
}

// resolve loads the config and returns the named channel and its region
// path.
func (cf *channelFlags) resolve() (buscfg.Channel, string, error) {
	bus, err := buscfg.Load(fs.NewReal(), cf.configPath)
	if err != nil {
		return buscfg.Channel{}, "", err
	}
	if cf.channel == "" {
		if len(bus.Channels) == 1 {
			ch := bus.Channels[0]
			return ch, ch.RegionPath(bus.RegionDir), nil
		}
		return buscfg.Channel{}, "", fmt.Errorf("--channel is required (config defines %d channels)", len(bus.Channels))
	}
	for _, ch := range bus.Channels {
		if ch.Name == cf.channel {
			return ch, ch.RegionPath(bus.RegionDir), nil
		}
	}
	return buscfg.Channel{}, "", fmt.Errorf("channel %q not found in %s", cf.channel, cf.configPath)
}

// openRegion attaches the resolved channel's region.
func (cf *channelFlags) openRegion(log *zap.Logger) (buscfg.Channel, *ipc.Region, error) {
	ch, path, err := cf.resolve()
	if err != nil {
		return buscfg.Channel{}, nil, err
	}
	region, err := ipc.Open(ipc.Options{Path: path, Config: ch.Config, Logger: log})
	if err != nil {
		return buscfg.Channel{}, nil, fmt.Errorf("open region %s: %w", path, err)
	}
	return ch, region, nil
}
