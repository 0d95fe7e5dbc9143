package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hedronlab/shmbus/pkg/ipc"
)

func cmdTail(out, errOut io.Writer, log *zap.Logger, args []string) int {
	flagSet := flag.NewFlagSet("tail", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	var cf channelFlags
	cf.register(flagSet)
	priority := flagSet.Int("priority", 0, "watcher priority to register at")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	_, region, err := cf.openRegion(log)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = region.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wakeups := make(chan os.Signal, 1)
	ipc.NotifyWakeup(wakeups)
	defer ipc.StopWakeup(wakeups)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// The watcher slot must be claimed and released on the goroutine
		// that follows the channel; its thread is the signal target.
		watcher, err := ipc.AttachWatcher(region, *priority)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()

		return follow(ctx, out, region, wakeups)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

// follow prints every message from the next unseen index onward, re-reading
// on each wakeup. Signals coalesce, so every wakeup drains until NothingNew.
func follow(ctx context.Context, out io.Writer, region *ipc.Region, wakeups <-chan os.Signal) error {
	reader := ipc.NewReader(region)
	buf := make([]byte, region.MessageDataSize())
	var ctxMsg ipc.Context

	next := uint32(0)
	if latest, ok := reader.LatestIndex(); ok {
		next = latest
	}

	for {
		for {
			result := reader.Read(next, &ctxMsg, &ipc.ReadOptions{Data: buf})
			switch result {
			case ipc.ReadOK:
				payload := ctxMsg.Data[len(ctxMsg.Data)-ctxMsg.Size:]
				fmt.Fprintf(out, "[%d] mono=%dns len=%d %q\n", ctxMsg.QueueIndex, ctxMsg.MonotonicSentTime, ctxMsg.Size, payload)
				next++
			case ipc.ReadTooOld:
				// Fell behind the ring; jump forward rather than replaying
				// indices that are already gone.
				if latest, ok := reader.LatestIndex(); ok {
					next = latest
				}
			case ipc.ReadOverwrote:
				// Lost the race mid-copy; same index again.
			case ipc.ReadNothingNew:
				goto wait
			case ipc.ReadFiltered:
				next++
			}
		}
	wait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wakeups:
		}
	}
}
