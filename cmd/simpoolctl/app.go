package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/giantswarm/simpool"
)

// env carries the I/O and the state resolved by the app's Before hook.
type env struct {
	stdout       io.Writer
	stderr       io.Writer
	newDeviceSet deviceSetFactory

	settings settings
	logger   *slog.Logger
}

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "set",
		Usage:   "Device set directory (default: the default simctl device set)",
		EnvVars: []string{"SIMPOOL_SET"},
	},
	&cli.StringFlag{
		Name:    "ledger",
		Usage:   "Allocation ledger shared with test processes (default: ~/.simpool/ledger.db)",
		EnvVars: []string{"SIMPOOL_LEDGER"},
	},
	&cli.BoolFlag{
		Name:  "no-ledger",
		Usage: "Ignore allocations made by other processes",
	},
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
		EnvVars: []string{"SIMPOOL_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "name-prefix",
		Usage: "Name prefix of pool-managed simulators",
	},
	&cli.DurationFlag{
		Name:  "state-timeout",
		Usage: "How long to wait for a simulator to shut down",
	},
	&cli.IntFlag{
		Name:  "concurrency",
		Usage: "Number of simulators bulk commands work on at once",
	},
	&cli.BoolFlag{
		Name:    "debug",
		Usage:   "Enable debug logging",
		EnvVars: []string{"SIMPOOL_DEBUG"},
	},
	&cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format (text, json)",
		Value: "text",
	},
}

func newApp(e *env) *cli.App {
	return &cli.App{
		Name:    "simpoolctl",
		Usage:   "Inspect and clean up simulator pools",
		Version: Version,
		Description: `simpoolctl operates on a whole device set. Simulators allocated by
processes sharing the ledger are left running by kill-spurious.

Examples:
  simpoolctl list --launched
  simpoolctl udid --name "iPhone 15" --sdk "iOS 17.2"
  simpoolctl --set ./sims kill-spurious
  simpoolctl --concurrency 4 delete-all`,
		Flags:     globalFlags,
		Writer:    e.stdout,
		ErrWriter: e.stderr,
		Before:    e.before,
		Commands: []*cli.Command{
			e.listCommand(),
			e.udidCommand(),
			e.killAllCommand(),
			e.killSpuriousCommand(),
			e.eraseAllCommand(),
			e.deleteAllCommand(),
		},
	}
}

// before resolves settings as defaults, then the config file, then flags.
func (e *env) before(c *cli.Context) error {
	logger, err := newLogger(e.stderr, c.String("log-format"), c.Bool("debug"))
	if err != nil {
		return err
	}
	e.logger = logger.With("version", Version)
	simpool.SetLogger(e.logger)

	s := defaultSettings()
	if path := c.String("config"); path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return err
		}
		s = s.merge(fc)
	}
	if c.IsSet("set") {
		s.SetPath = c.String("set")
	}
	if c.IsSet("ledger") {
		s.LedgerPath = c.String("ledger")
	}
	if c.Bool("no-ledger") {
		s.LedgerPath = ""
	}
	if c.IsSet("name-prefix") {
		s.NamePrefix = c.String("name-prefix")
	}
	if c.IsSet("state-timeout") {
		s.StateTimeout = c.Duration("state-timeout")
	}
	if c.IsSet("concurrency") {
		s.BulkConcurrency = c.Int("concurrency")
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	e.settings = s

	e.logger.Debug("resolved settings", "set", s.SetPath, "ledger", s.LedgerPath, "prefix", s.NamePrefix)
	return nil
}

// withPool runs fn against an initialized pool over the configured device
// set and closes the pool afterwards.
func (e *env) withPool(c *cli.Context, fn func(ctx context.Context, p simpool.Pool) error) (err error) {
	ctx := c.Context
	p := simpool.NewPool(e.newDeviceSet(e.settings.SetPath), e.settings.poolOptions()...)
	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	defer func() {
		if closeErr := p.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close pool: %w", closeErr))
		}
	}()
	p.StartLoggingInteractions(e.logger)

	return fn(ctx, p)
}

func (e *env) listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the simulators of the device set",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "launched", Usage: "Only Booting or Booted simulators"},
			&cli.BoolFlag{Name: "unallocated", Usage: "Only simulators not allocated by this invocation"},
		},
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				var (
					sims []simpool.Simulator
					err  error
				)
				switch {
				case c.Bool("launched"):
					sims, err = p.LaunchedSimulators(ctx)
				case c.Bool("unallocated"):
					sims, err = p.UnallocatedSimulators(ctx)
				default:
					sims, err = p.AllSimulators(ctx)
				}
				if err != nil {
					return err
				}
				return e.printSimulators(ctx, sims)
			})
		},
	}
}

func (e *env) printSimulators(ctx context.Context, sims []simpool.Simulator) error {
	w := tabwriter.NewWriter(e.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UDID\tNAME\tDEVICE TYPE\tRUNTIME\tSTATE")
	for _, sim := range sims {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sim.UDID(), sim.Name(), sim.DeviceType(), sim.Runtime(), sim.State(ctx))
	}
	return w.Flush()
}

func (e *env) udidCommand() *cli.Command {
	return &cli.Command{
		Name:  "udid",
		Usage: "Print the UDID of the first simulator with a name",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Simulator name", Required: true},
			&cli.StringFlag{Name: "sdk", Usage: "Runtime, e.g. \"iOS 17.2\" (default: any)"},
		},
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				udid, err := p.DeviceUDIDWithName(ctx, c.String("name"), c.String("sdk"))
				if err != nil {
					return err
				}
				fmt.Fprintln(e.stdout, udid)
				return nil
			})
		},
	}
}

func (e *env) killAllCommand() *cli.Command {
	return &cli.Command{
		Name:  "kill-all",
		Usage: "Shut down every simulator",
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				killed, err := p.KillAll(ctx)
				e.printNames("killed", simulatorNames(killed))
				return err
			})
		},
	}
}

func (e *env) killSpuriousCommand() *cli.Command {
	return &cli.Command{
		Name:  "kill-spurious",
		Usage: "Shut down running simulators no pool is responsible for",
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				return p.KillSpurious(ctx)
			})
		},
	}
}

func (e *env) eraseAllCommand() *cli.Command {
	return &cli.Command{
		Name:  "erase-all",
		Usage: "Shut down every simulator and erase the pool-managed ones",
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				erased, err := p.EraseAll(ctx)
				e.printNames("erased", simulatorNames(erased))
				return err
			})
		},
	}
}

func (e *env) deleteAllCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-all",
		Usage: "Shut down every simulator and delete the pool-managed ones",
		Action: func(c *cli.Context) error {
			return e.withPool(c, func(ctx context.Context, p simpool.Pool) error {
				deleted, err := p.DeleteAll(ctx)
				e.printNames("deleted", deleted)
				return err
			})
		},
	}
}

// printNames prints the partial result of a bulk command, one name per
// line, before any error is reported.
func (e *env) printNames(verb string, names []string) {
	for _, n := range names {
		fmt.Fprintf(e.stdout, "%s %s\n", verb, n)
	}
}

func simulatorNames(sims []simpool.Simulator) []string {
	names := make([]string, len(sims))
	for i, s := range sims {
		names[i] = s.Name()
	}
	return names
}
