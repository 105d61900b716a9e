// Command simpoolctl inspects and cleans up a simulator device set from a
// shell or a CI job. It shares the allocation ledger with the test
// processes that use the simpool library, so cleanup never touches a
// simulator a running test has allocated.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"

	"github.com/giantswarm/simpool"
)

// Version is the application version (set via ldflags).
var Version = "dev"

// deviceSetFactory builds the backend for a device set path.
type deviceSetFactory func(setPath string) simpool.DeviceSet

// Run runs the application with args and returns the first error of the
// command or nil.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, newDeviceSet deviceSetFactory) error {
	app := newApp(&env{stdout: stdout, stderr: stderr, newDeviceSet: newDeviceSet})

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return app.RunContext(ctx, args)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// newLogger returns a logger writing to w in the given format.
func newLogger(w io.Writer, format string, debug bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

func main() {
	err := Run(context.Background(), os.Args, os.Stdout, os.Stderr, simpool.NewSimctlDeviceSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
