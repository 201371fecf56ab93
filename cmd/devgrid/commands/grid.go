// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/devgrid-foundation/devgrid/cmd/devgrid/cli"
	"github.com/devgrid-foundation/devgrid/lib/runner"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

func startCommand() *cli.Command {
	var grid gridFlags
	var onlyDependencies bool
	return &cli.Command{
		Name:    "start",
		Summary: "start the grid, or one service and its dependencies",
		Usage:   "devgrid start [service] [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
			grid.register(fs)
			fs.BoolVar(&onlyDependencies, "only-dependencies", false,
				"start everything the service needs but not the service itself")
			return fs
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("at most one service name, got %d", len(args))
			}
			session, err := grid.session()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if len(args) == 0 {
				if onlyDependencies {
					return fmt.Errorf("--only-dependencies requires a service name")
				}
				return session.StartAll(ctx)
			}
			return session.Start(ctx, args[0], runner.StartOptions{
				OnlyDependencies: onlyDependencies,
			})
		},
	}
}

func workerCommand() *cli.Command {
	var grid gridFlags
	var index int
	return &cli.Command{
		Name:    "worker",
		Summary: "start an elastic worker for a hub",
		Usage:   "devgrid worker <hub> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
			grid.register(fs)
			fs.IntVar(&index, "index", 0, "worker slot on this machine")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one hub alias required")
			}
			session, err := grid.session()
			if err != nil {
				return err
			}
			return session.StartWorker(context.Background(), args[0], index)
		},
	}
}

func stopCommand() *cli.Command {
	var grid gridFlags
	var kind string
	var withDependencies, withDependents, kill, reset bool
	return &cli.Command{
		Name:    "stop",
		Summary: "stop the grid, one service, or every service of a kind",
		Usage:   "devgrid stop [service] [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			grid.register(fs)
			fs.StringVar(&kind, "kind", "", "stop every service of this kind")
			fs.BoolVar(&withDependencies, "with-dependencies", false,
				"also stop the service's transitive dependencies")
			fs.BoolVar(&withDependents, "with-dependents", false,
				"with --kind, also stop everything from later phases")
			fs.BoolVar(&kill, "kill", false, "hard-kill instead of graceful shutdown")
			fs.BoolVar(&reset, "reset", false, "wipe and reinitialize stateful directories after stopping")
			return fs
		},
		Run: func(args []string) error {
			session, err := grid.session()
			if err != nil {
				return err
			}
			ctx := context.Background()
			opts := runner.StopOptions{
				WithDependencies: withDependencies,
				Kill:             kill,
				Reset:            reset,
			}
			switch {
			case kind != "":
				if len(args) > 0 {
					return fmt.Errorf("--kind and a service name are mutually exclusive")
				}
				parsed, err := topology.ParseKind(kind)
				if err != nil {
					return err
				}
				return session.StopKind(ctx, parsed, withDependents, opts)
			case len(args) == 1:
				return session.Stop(ctx, args[0], opts)
			case len(args) == 0:
				return session.StopAll(ctx)
			default:
				return fmt.Errorf("at most one service name, got %d", len(args))
			}
		},
	}
}

func killCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "kill",
		Summary: "hard-kill every grid process, including strays",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("kill", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			session, err := grid.session()
			if err != nil {
				return err
			}
			return session.KillAll(context.Background())
		},
	}
}

func installCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "install",
		Summary: "prepare directories, markers, and signatures without starting",
		Usage:   "devgrid install [service] [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			session, err := grid.session()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if len(args) == 0 {
				return session.InstallAll(ctx)
			}
			if len(args) > 1 {
				return fmt.Errorf("at most one service name, got %d", len(args))
			}
			return session.Install(ctx, args[0])
		},
	}
}

func resetCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "reset",
		Summary: "kill everything and wipe all stateful directories",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("reset", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			session, err := grid.session()
			if err != nil {
				return err
			}
			return session.ResetAll(context.Background())
		},
	}
}
