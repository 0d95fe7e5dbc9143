package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hedronlab/shmbus/internal/buscfg"
	"github.com/hedronlab/shmbus/pkg/fs"
	"github.com/hedronlab/shmbus/pkg/ipc"
)

func cmdInit(out, errOut io.Writer, log *zap.Logger, args []string) int {
	flagSet := flag.NewFlagSet("init", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", "bus.hujson", "bus configuration file")
	only := flagSet.String("channel", "", "initialize only this channel")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	bus, err := buscfg.Load(fs.NewReal(), *configPath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	initialized := 0
	for _, ch := range bus.Channels {
		if *only != "" && ch.Name != *only {
			continue
		}
		path := ch.RegionPath(bus.RegionDir)
		region, err := ipc.Open(ipc.Options{Path: path, Config: ch.Config, Logger: log})
		if err != nil {
			fmt.Fprintf(errOut, "error: channel %s: %v\n", ch.Name, err)
			return 1
		}
		size, _ := ipc.RegionSize(ch.Config)
		fmt.Fprintf(out, "%s: %s (%d bytes)\n", ch.Name, path, size)
		_ = region.Close()
		initialized++
	}

	if *only != "" && initialized == 0 {
		fmt.Fprintf(errOut, "error: channel %q not found in %s\n", *only, *configPath)
		return 1
	}
	return 0
}
