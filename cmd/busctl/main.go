// Package main provides busctl, the operator tool for shmbus channels:
// creating regions from a config file, dumping their state, and test
// publishing/following.
package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/hedronlab/shmbus/internal/logging"
)

const usage = `busctl manages shmbus channel regions.

Usage:
  busctl <command> [flags]

Commands:
  init    Create and initialize channel regions from a config file
  dump    Print the state of a channel region
  send    Publish a single message on a channel
  tail    Follow a channel, printing messages as they arrive

Run "busctl <command> --help" for command flags.
`

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

func run(out, errOut io.Writer, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return 2
	}

	log, _, err := logging.Init(&logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return cmdInit(out, errOut, log, rest)
	case "dump":
		return cmdDump(out, errOut, log, rest)
	case "send":
		return cmdSend(out, errOut, log, rest)
	case "tail":
		return cmdTail(out, errOut, log, rest)
	case "help", "--help", "-h":
		fmt.Fprint(out, usage)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}
