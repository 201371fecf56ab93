// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/devgrid-foundation/devgrid/cmd/devgrid/cli"
	"github.com/devgrid-foundation/devgrid/lib/discover"
)

func statusCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "status",
		Summary: "show which grid services are running on this machine",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			topo, err := grid.load("")
			if err != nil {
				return err
			}
			ctx := context.Background()
			scanner := discover.NewScanner(topo.Grid, slog.Default())

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tMACHINE\tENDPOINT\tPID\tSTATE")
			for _, config := range topo.Services {
				pid, state := "-", "stopped"
				if config.Machine != topo.Machine {
					state = "remote"
				} else {
					match, err := scanner.Lookup(ctx, config.Kind, config.Name)
					if err != nil {
						return err
					}
					if match != nil {
						pid, state = fmt.Sprint(match.PID), "running"
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					config.Name, config.Kind, config.Machine, config.Endpoint(), pid, state)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			// Surface strays: grid-marked processes the topology no
			// longer describes, typically left over from an edit.
			matches, err := scanner.RunningAll(ctx)
			if err != nil {
				return err
			}
			known := make(map[string]bool)
			for _, config := range topo.Services {
				known[config.Name] = true
			}
			for kind, kindMatches := range matches {
				for _, match := range kindMatches {
					if match.Foreign() || known[match.Config.Name] {
						continue
					}
					fmt.Fprintf(os.Stdout, "stray: %s process %d (service %q not in topology)\n",
						kind, match.PID, match.Config.Name)
				}
			}
			return nil
		},
	}
}
