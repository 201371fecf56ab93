// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/devgrid-foundation/devgrid/cmd/devgrid/cli"
	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/runner"
)

// execCommand is the hidden relay entry point the master invokes on
// other machines (and itself for out-of-process operations). It acts
// on exactly one service with no dependency planning; ordering and
// planning stay with the invoking session.
func execCommand() *cli.Command {
	var grid gridFlags
	var machine string
	var kill, reset bool
	return &cli.Command{
		Name:   "exec",
		Hidden: true,
		Usage:  "devgrid exec <start|stop|install|reset|sweep> [service] [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			grid.register(fs)
			fs.StringVar(&machine, "machine", "", "assume this machine identity")
			fs.BoolVar(&kill, "kill", false, "hard-kill instead of graceful shutdown")
			fs.BoolVar(&reset, "reset", false, "wipe stateful state after stopping")
			return fs
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("operation required")
			}
			op, args := args[0], args[1:]

			topo, err := grid.load(machine)
			if err != nil {
				return err
			}
			runtime := lifecycle.NewRuntime(topo, slog.Default())
			driver := runner.NewLocalDriver(runtime)
			ctx := context.Background()

			if op == "sweep" {
				if len(args) != 0 {
					return fmt.Errorf("sweep takes no service name")
				}
				return driver.Sweep(ctx)
			}

			if len(args) != 1 {
				return fmt.Errorf("operation %q requires exactly one service name", op)
			}
			config, err := topo.Service(args[0])
			if err != nil {
				return err
			}

			progress, err := grid.progress()
			if err != nil {
				return err
			}
			emit := func(state lifecycle.State) {
				progress(lifecycle.Event{
					Count: 1, Total: 1,
					Kind: config.Kind, State: state, Name: config.Name,
				})
			}

			switch op {
			case "start":
				emit(lifecycle.StateStarting)
				if err := driver.Start(ctx, config); err != nil {
					emit(lifecycle.StateFailed)
					return err
				}
				emit(lifecycle.StateReady)
				return nil
			case "stop":
				emit(lifecycle.StateStopping)
				err := driver.Stop(ctx, config, lifecycle.StopOptions{Kill: kill, Reset: reset})
				if err != nil {
					emit(lifecycle.StateFailed)
					return err
				}
				emit(lifecycle.StateStopped)
				return nil
			case "install":
				return driver.Install(ctx, config)
			case "reset":
				return driver.Stop(ctx, config, lifecycle.StopOptions{Kill: true, Reset: true})
			default:
				return fmt.Errorf("unknown operation %q", op)
			}
		},
	}
}
