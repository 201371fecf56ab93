// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/devgrid-foundation/devgrid/lib/clock"
	"github.com/devgrid-foundation/devgrid/lib/discover"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// Runtime carries the shared machinery every Service implementation
// uses: the clock driving bounded polls, the process-table scanner,
// and the spawner. One Runtime serves a whole topology.
type Runtime struct {
	Clock   clock.Clock
	Scanner *discover.Scanner
	Spawner Spawner
	Logger  *slog.Logger

	// Machine is the local machine identity; CanStart refuses
	// services declared for other machines.
	Machine string

	// Grid and ConfigPath are embedded in every spawned process's
	// marker environment.
	Grid       string
	ConfigPath string

	// PollInterval and PollLimit bound every readiness and
	// termination poll loop. Exceeding the limit is a terminal
	// failure; the caller decides whether to retry.
	PollInterval time.Duration
	PollLimit    int

	// ProbeTimeout bounds a single readiness probe attempt.
	ProbeTimeout time.Duration
}

// NewRuntime builds a production Runtime for a resolved topology.
func NewRuntime(topo *topology.Topology, logger *slog.Logger) *Runtime {
	return &Runtime{
		Clock:        clock.Real(),
		Scanner:      discover.NewScanner(topo.Grid, logger),
		Spawner:      OSSpawner{},
		Logger:       logger,
		Machine:      topo.Machine,
		Grid:         topo.Grid,
		ConfigPath:   topo.ConfigPath(),
		PollInterval: 500 * time.Millisecond,
		PollLimit:    120,
		ProbeTimeout: 2 * time.Second,
	}
}

// Start drives the service to ready. The call is idempotent: when a
// discoverable instance of the service already exists, it is adopted
// and polled to readiness instead of launching a second process
// against the same persisted data.
func (r *Runtime) Start(ctx context.Context, svc Service) (*Instance, error) {
	config := svc.Config()

	if err := svc.CanStart(); err != nil {
		return nil, fmt.Errorf("cannot start %q: %w", config.Name, err)
	}

	existing, err := r.Scanner.Lookup(ctx, config.Kind, config.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.Logger.Info("service already running, adopting",
			"service", config.Name,
			"pid", existing.PID,
		)
		instance := &Instance{PID: existing.PID, Config: existing.Config, State: StateReadying}
		if err := r.pollReady(ctx, svc, instance); err != nil {
			return instance, err
		}
		return instance, nil
	}

	if err := svc.IsBusy(ctx); err != nil {
		return nil, fmt.Errorf("cannot start %q: %w", config.Name, err)
	}

	argv := config.LaunchArgs()
	environ := config.Environ(r.Grid, r.ConfigPath)

	pid, err := r.Spawner.Spawn(ctx, argv, environ, config.LogFile)
	if err != nil {
		return nil, fmt.Errorf("spawning %q: %w", config.Name, err)
	}
	r.Logger.Info("service spawned",
		"service", config.Name,
		"kind", config.Kind,
		"pid", pid,
		"command", argv[0],
	)

	// The PID file is advisory (log scanning, external cleanup);
	// discovery never depends on it.
	if config.PIDFile != "" {
		if err := os.WriteFile(config.PIDFile, []byte(strconv.Itoa(int(pid))+"\n"), 0644); err != nil {
			r.Logger.Warn("writing pid file failed", "service", config.Name, "error", err)
		}
	}

	instance := &Instance{PID: pid, Config: config, State: StateStarted}
	instance.State = StateReadying
	if err := r.pollReady(ctx, svc, instance); err != nil {
		return instance, err
	}
	return instance, nil
}

// pollReady probes the service once per PollInterval until it answers,
// the context is canceled, or exactly PollLimit probes have failed.
func (r *Runtime) pollReady(ctx context.Context, svc Service, instance *Instance) error {
	config := svc.Config()
	ticker := r.Clock.NewTicker(r.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
		lastErr = svc.IsReady(probeCtx)
		cancel()
		if lastErr == nil {
			instance.State = StateReady
			r.Logger.Info("service ready", "service", config.Name, "probes", attempt)
			return nil
		}
		if attempt >= r.PollLimit {
			break
		}
		select {
		case <-ctx.Done():
			instance.State = StateFailed
			return fmt.Errorf("waiting for %q to become ready: %w", config.Name, ctx.Err())
		case <-ticker.C:
		}
	}

	instance.State = StateFailed
	return fmt.Errorf("service %q not ready after %d probes: %w", config.Name, r.PollLimit, lastErr)
}

// StopOptions modify Stop behavior.
type StopOptions struct {
	// Kill sends a hard termination signal instead of the graceful
	// shutdown path and skips the disappearance poll.
	Kill bool

	// Reset wipes and reinitializes the stateful directory after the
	// process is gone.
	Reset bool
}

// Stop drives the service to stopped. A service with no discoverable
// process is already stopped, not an error. Graceful stop that
// exhausts the poll budget fails loudly; there is no silent fallback
// kill.
func (r *Runtime) Stop(ctx context.Context, svc Service, opts StopOptions) error {
	config := svc.Config()

	match, err := r.Scanner.Lookup(ctx, config.Kind, config.Name)
	if err != nil {
		return err
	}
	if match == nil {
		r.Logger.Debug("service not running", "service", config.Name)
	} else if opts.Kill {
		if err := r.Spawner.Kill(match.PID); err != nil {
			return fmt.Errorf("killing %q: %w", config.Name, err)
		}
		r.Logger.Info("service killed", "service", config.Name, "pid", match.PID)
	} else {
		if err := svc.Shutdown(ctx, match.PID); err != nil {
			return fmt.Errorf("shutting down %q: %w", config.Name, err)
		}
		if err := r.pollGone(ctx, match.PID); err != nil {
			return fmt.Errorf("service %q (pid %d): %w", config.Name, match.PID, err)
		}
		r.Logger.Info("service stopped", "service", config.Name, "pid", match.PID)
	}

	if config.PIDFile != "" {
		os.Remove(config.PIDFile)
	}
	if opts.Reset {
		if err := svc.Reset(ctx); err != nil {
			return fmt.Errorf("resetting %q: %w", config.Name, err)
		}
	}
	return nil
}

// pollGone waits for the PID to leave the process table, bounded by
// the poll budget.
func (r *Runtime) pollGone(ctx context.Context, pid int32) error {
	ticker := r.Clock.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		gone, err := r.Scanner.Gone(ctx, pid)
		if err != nil {
			return err
		}
		if gone {
			return nil
		}
		if attempt >= r.PollLimit {
			return fmt.Errorf("still running after %d polls following graceful shutdown", r.PollLimit)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for termination: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Install prepares the service's on-disk state without starting it.
func (r *Runtime) Install(ctx context.Context, svc Service) error {
	if err := svc.Install(ctx); err != nil {
		return fmt.Errorf("installing %q: %w", svc.Config().Name, err)
	}
	return nil
}
