// Command dirmirror serves a live, read-only mirror of a directory tree over
// HTTP, with change streams and an optional key/value sibling resource.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dirmirror/internal/version"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "dirmirror: %v\n", err)
		return 2
	}
	if flags.Version {
		fmt.Fprintf(stdout, "dirmirror %s\n", version.GetVersionInfo())
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := run(ctx, flags, stderr, signals, nil); err != nil {
		fmt.Fprintf(stderr, "dirmirror: %v\n", err)
		return 1
	}
	return 0
}
