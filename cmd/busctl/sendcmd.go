package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

func cmdSend(out, errOut io.Writer, log *zap.Logger, args []string) int {
	flagSet := flag.NewFlagSet("send", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	var cf channelFlags
	cf.register(flagSet)
	payload := flagSet.String("payload", "", "payload bytes to publish")
	wake := flagSet.Bool("wake", true, "signal watchers after publishing")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	ch, region, err := cf.openRegion(log)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = region.Close() }()

	if len(*payload) > region.MessageDataSize() {
		fmt.Fprintf(errOut, "error: payload is %d bytes, channel takes at most %d\n", len(*payload), region.MessageDataSize())
		return 1
	}

	sender, err := ipc.AttachSender(region, ch.StorageDuration)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = sender.Close() }()

	result, info := sender.CopyAndSend([]byte(*payload), nil)
	if result != ipc.SendOK {
		fmt.Fprintf(errOut, "error: send failed: %s\n", result)
		return 1
	}

	signaled := 0
	if *wake {
		wakeUpper := ipc.AttachWakeUpper(region)
		wakeUpper.SkipSchedulerBoost = true
		signaled = wakeUpper.Wakeup(0)
	}

	fmt.Fprintf(out, "published queue index %d (%d watchers signaled)\n", info.QueueIndex, signaled)
	return 0
}
