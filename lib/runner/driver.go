// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/remote"
	"github.com/devgrid-foundation/devgrid/lib/signature"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// localDriver performs operations on this machine through the
// lifecycle runtime.
type localDriver struct {
	runtime *lifecycle.Runtime
}

// NewLocalDriver returns the driver for this machine's services. The
// relay entry point uses it to execute single-service operations
// without session planning.
func NewLocalDriver(runtime *lifecycle.Runtime) Driver {
	return &localDriver{runtime: runtime}
}

func (d *localDriver) Install(ctx context.Context, config *topology.ServiceConfig) error {
	svc, err := d.runtime.ServiceFor(config)
	if err != nil {
		return err
	}
	return d.runtime.Install(ctx, svc)
}

func (d *localDriver) Start(ctx context.Context, config *topology.ServiceConfig) error {
	svc, err := d.runtime.ServiceFor(config)
	if err != nil {
		return err
	}
	if err := d.runtime.Install(ctx, svc); err != nil {
		return err
	}
	_, err = d.runtime.Start(ctx, svc)
	return err
}

func (d *localDriver) Stop(ctx context.Context, config *topology.ServiceConfig, opts lifecycle.StopOptions) error {
	svc, err := d.runtime.ServiceFor(config)
	if err != nil {
		return err
	}
	return d.runtime.Stop(ctx, svc, opts)
}

// Sweep kills every live process carrying this grid's marker,
// including zombies from a topology edit that removed their service
// entry. Foreign-grid and unreadable processes are left alone.
func (d *localDriver) Sweep(ctx context.Context) error {
	matches, err := d.runtime.Scanner.RunningAll(ctx)
	if err != nil {
		return err
	}
	for kind, kindMatches := range matches {
		for _, match := range kindMatches {
			if match.Foreign() {
				continue
			}
			if err := d.runtime.Spawner.Kill(match.PID); err != nil {
				return fmt.Errorf("killing stray %s process %d: %w", kind, match.PID, err)
			}
			d.runtime.Logger.Info("stray process killed",
				"kind", kind,
				"pid", match.PID,
				"service", match.Config.Name,
			)
		}
	}
	return nil
}

// remoteDriver relays operations to another machine's devgrid binary.
// The remote invocation acts on exactly one service; planning stays on
// the master.
type remoteDriver struct {
	machine    string
	executor   remote.Executor
	configPath string
	progress   lifecycle.Progress
}

// ExecCommand is the hidden CLI subcommand remote drivers invoke. It
// performs a single-service (or sweep) operation with no dependency
// planning of its own.
const ExecCommand = "exec"

func (d *remoteDriver) run(ctx context.Context, args ...string) error {
	full := append([]string{ExecCommand}, args...)
	// The topology file names the master as its machine; the remote
	// side must assume its own identity when resolving it.
	full = append(full, "--config", d.configPath, "--machine", d.machine)
	// Remote events pass through with their single-service counts;
	// the session's own events carry the plan-wide totals.
	return d.executor.Run(ctx, full, func(event lifecycle.Event) {
		d.progress.Emit(event)
	})
}

func (d *remoteDriver) Install(ctx context.Context, config *topology.ServiceConfig) error {
	if err := d.pushConfig(ctx); err != nil {
		return err
	}
	if err := d.pushState(ctx, config); err != nil {
		return err
	}
	return d.run(ctx, "install", config.Name)
}

func (d *remoteDriver) Start(ctx context.Context, config *topology.ServiceConfig) error {
	if err := d.pushConfig(ctx); err != nil {
		return err
	}
	if err := d.pushState(ctx, config); err != nil {
		return err
	}
	return d.run(ctx, "start", config.Name)
}

func (d *remoteDriver) Stop(ctx context.Context, config *topology.ServiceConfig, opts lifecycle.StopOptions) error {
	args := []string{"stop", config.Name}
	if opts.Kill {
		args = append(args, "--kill")
	}
	if opts.Reset {
		args = append(args, "--reset")
	}
	return d.run(ctx, args...)
}

func (d *remoteDriver) Sweep(ctx context.Context) error {
	return d.run(ctx, "sweep")
}

// pushConfig copies the topology file to the same path on the remote
// machine, so the relayed invocation resolves an identical topology.
func (d *remoteDriver) pushConfig(ctx context.Context) error {
	if err := d.executor.CopyFile(ctx, d.configPath, d.configPath); err != nil {
		return fmt.Errorf("pushing topology to %q: %w", d.machine, err)
	}
	return nil
}

// pushState copies the identity marker and signature registry of a
// stateful service to the remote machine when the master already holds
// them, so both machines agree on the dataset identity before the
// remote install runs. Absent files are fine: a fresh install creates
// them remotely.
func (d *remoteDriver) pushState(ctx context.Context, config *topology.ServiceConfig) error {
	if !config.Kind.Stateful() || config.Directory == "" {
		return nil
	}
	for _, name := range []string{signature.ChainMarkerName, signature.FileName} {
		local := filepath.Join(config.Directory, name)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		if err := d.executor.CopyFile(ctx, local, local); err != nil {
			return fmt.Errorf("pushing %s to %q: %w", name, d.machine, err)
		}
	}
	return nil
}
