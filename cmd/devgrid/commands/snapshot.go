// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/devgrid-foundation/devgrid/cmd/devgrid/cli"
	"github.com/devgrid-foundation/devgrid/lib/discover"
	"github.com/devgrid-foundation/devgrid/lib/remote"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

func snapshotCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "snapshot",
		Summary: "archive all stateful directories into one compressed file",
		Usage:   "devgrid snapshot <output.tar.zst> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one output path required")
			}
			topo, err := grid.load("")
			if err != nil {
				return err
			}
			if err := requireStopped(topo); err != nil {
				return err
			}

			return writeBundle(args[0], filepath.Join(topo.Root, "data"))
		},
	}
}

// writeBundle archives dir into a new file at path. No partial
// snapshot survives a failure.
func writeBundle(path, dir string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err := remote.Bundle(out, dir); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("archiving %s: %w", dir, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func restoreCommand() *cli.Command {
	var grid gridFlags
	return &cli.Command{
		Name:    "restore",
		Summary: "restore stateful directories from a snapshot",
		Usage:   "devgrid restore <snapshot.tar.zst> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			grid.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one snapshot path required")
			}
			topo, err := grid.load("")
			if err != nil {
				return err
			}
			if err := requireStopped(topo); err != nil {
				return err
			}

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			defer in.Close()

			dataRoot := filepath.Join(topo.Root, "data")
			if err := os.MkdirAll(dataRoot, 0755); err != nil {
				return err
			}
			if err := remote.Unbundle(in, dataRoot); err != nil {
				return fmt.Errorf("restoring into %s: %w", dataRoot, err)
			}
			return nil
		},
	}
}

// requireStopped refuses state surgery while any grid process lives,
// since a running database would corrupt or outrace the copy.
func requireStopped(topo *topology.Topology) error {
	scanner := discover.NewScanner(topo.Grid, slog.Default())
	matches, err := scanner.RunningAll(context.Background())
	if err != nil {
		return err
	}
	for _, kindMatches := range matches {
		for _, match := range kindMatches {
			if !match.Foreign() {
				return fmt.Errorf("grid process %d (%s) still running; stop the grid first",
					match.PID, match.Config.Name)
			}
		}
	}
	return nil
}
