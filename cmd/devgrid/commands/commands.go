// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the devgrid CLI tree and binds it to the
// orchestration packages.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/devgrid-foundation/devgrid/cmd/devgrid/cli"
	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/remote"
	"github.com/devgrid-foundation/devgrid/lib/runner"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Root builds the full command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:        "devgrid",
		Summary:     "orchestrate a local development grid",
		Description: "devgrid starts, stops, and resets the services of a development\ngrid: chain node, object store, container daemon, databases, and the\nplatform services built on them, in dependency order.",
		Subcommands: []*cli.Command{
			startCommand(),
			workerCommand(),
			stopCommand(),
			killCommand(),
			installCommand(),
			resetCommand(),
			statusCommand(),
			snapshotCommand(),
			restoreCommand(),
			execCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print the devgrid version",
		Run: func(args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

// gridFlags are the flags shared by every orchestration command.
type gridFlags struct {
	config       string
	progressCBOR bool
}

func (g *gridFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.config, "config", "c", "",
		"topology file (default $"+topology.EnvConfig+", then devgrid.yaml)")
	fs.BoolVar(&g.progressCBOR, "progress-cbor", false,
		"emit CBOR progress frames on stdout")
	fs.MarkHidden("progress-cbor") //nolint:errcheck flag exists
}

// load reads, resolves, and validates the topology. An explicit
// machine overrides the file's identity; the remote relay uses this to
// assume the target machine's role.
func (g *gridFlags) load(machine string) (*topology.Topology, error) {
	path := g.config
	if path == "" {
		path = os.Getenv(topology.EnvConfig)
	}
	if path == "" {
		path = "devgrid.yaml"
	}
	topo, err := topology.Load(path)
	if err != nil {
		return nil, err
	}
	if machine != "" {
		topo.Machine = machine
	}
	resolved, err := topo.Resolve()
	if err != nil {
		return nil, err
	}
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology %s: %w", path, err)
	}
	return resolved, nil
}

// progress builds the event sink: CBOR frames on stdout in relay mode,
// otherwise human-readable lines on stderr with in-place updates when
// stderr is a terminal.
func (g *gridFlags) progress() (lifecycle.Progress, error) {
	if g.progressCBOR {
		enc, err := remote.NewStreamEncoder(os.Stdout)
		if err != nil {
			return nil, err
		}
		return func(event lifecycle.Event) {
			if err := enc.Encode(event); err != nil {
				slog.Warn("encoding progress frame failed", "error", err)
			}
		}, nil
	}

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	return func(event lifecycle.Event) {
		line := fmt.Sprintf("[%d/%d] %-9s %s", event.Count, event.Total, event.State, event.Name)
		switch {
		case !interactive:
			fmt.Fprintln(os.Stderr, line)
		case event.State == lifecycle.StateStarting || event.State == lifecycle.StateStopping:
			fmt.Fprintf(os.Stderr, "\r\033[K%s", line)
		default:
			fmt.Fprintf(os.Stderr, "\r\033[K%s\n", line)
		}
	}, nil
}

// session builds a single-use session over a freshly loaded topology.
func (g *gridFlags) session() (*runner.Session, error) {
	topo, err := g.load("")
	if err != nil {
		return nil, err
	}
	progress, err := g.progress()
	if err != nil {
		return nil, err
	}
	return runner.NewSession(topo, runner.Options{
		Logger:   slog.Default(),
		Progress: progress,
	})
}
