package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

func cmdDump(out, errOut io.Writer, log *zap.Logger, args []string) int {
	flagSet := flag.NewFlagSet("dump", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	var cf channelFlags
	cf.register(flagSet)
	withData := flagSet.Bool("data", false, "include payload bytes")
	output := flagSet.String("output", "", "write the dump to a file instead of stdout")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	_, region, err := cf.openRegion(log)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = region.Close() }()

	if *output == "" {
		ipc.DumpRegion(out, region, *withData)
		return 0
	}

	var buf bytes.Buffer
	ipc.DumpRegion(&buf, region, *withData)
	if err := atomic.WriteFile(*output, &buf); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	fmt.Fprintf(out, "wrote %s\n", *output)
	return 0
}
