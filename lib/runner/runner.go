// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes grid-wide orchestration operations against a
// resolved topology: phased start, reverse-phased stop, install, and
// reset. It owns the ordering rules; the per-service mechanics live in
// lib/lifecycle and remote dispatch in lib/remote.
//
// A Session is single-use per grid-wide operation. State is always
// re-derived from the process table, so consecutive operations belong
// in consecutive sessions; reusing one is a programming error and is
// rejected rather than silently tolerated.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/devgrid-foundation/devgrid/lib/graph"
	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/remote"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// ErrSessionUsed is returned when a Session is asked to run a second
// grid-wide operation.
var ErrSessionUsed = errors.New("session already ran a grid-wide operation")

// Driver performs single-service operations on one machine. The local
// machine's driver calls lib/lifecycle directly; remote machines get a
// driver that relays through lib/remote.
type Driver interface {
	Install(ctx context.Context, config *topology.ServiceConfig) error
	Start(ctx context.Context, config *topology.ServiceConfig) error
	Stop(ctx context.Context, config *topology.ServiceConfig, opts lifecycle.StopOptions) error

	// Sweep force-kills every surviving process carrying this grid's
	// marker, including ones no longer described by the topology.
	Sweep(ctx context.Context) error
}

// ExecutorFactory builds a remote executor for a machine. Split out so
// tests can substitute in-process executors.
type ExecutorFactory func(machine *topology.MachineConfig) remote.Executor

// Session runs one grid-wide operation over a resolved topology.
type Session struct {
	topo     *topology.Topology
	logger   *slog.Logger
	progress lifecycle.Progress

	local     Driver
	executors ExecutorFactory

	used atomic.Bool
}

// Options configure a Session beyond its topology.
type Options struct {
	Logger   *slog.Logger
	Progress lifecycle.Progress

	// Driver overrides the local-machine driver. Nil uses the
	// lifecycle runtime.
	Driver Driver

	// Executors overrides remote executor construction. Nil uses SSH.
	Executors ExecutorFactory
}

// NewSession builds a session for one operation.
func NewSession(topo *topology.Topology, opts Options) (*Session, error) {
	if !topo.Resolved() {
		return nil, errors.New("topology must be resolved before orchestration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	local := opts.Driver
	if local == nil {
		local = &localDriver{runtime: lifecycle.NewRuntime(topo, logger)}
	}
	executors := opts.Executors
	if executors == nil {
		executors = func(machine *topology.MachineConfig) remote.Executor {
			return remote.NewSSH(machine, logger)
		}
	}
	return &Session{
		topo:      topo,
		logger:    logger,
		progress:  opts.Progress,
		local:     local,
		executors: executors,
	}, nil
}

// begin claims the session for one grid-wide operation.
func (s *Session) begin() error {
	if s.used.Swap(true) {
		return ErrSessionUsed
	}
	return nil
}

// driverFor selects the driver for a service's machine. Remote
// machines require the local-master role.
func (s *Session) driverFor(machine string) (Driver, error) {
	if machine == s.topo.Machine {
		return s.local, nil
	}
	if !s.topo.LocalMaster {
		return nil, fmt.Errorf("service on machine %q: %w", machine, remote.ErrNotMaster)
	}
	config, ok := s.topo.Machines[machine]
	if !ok {
		return nil, fmt.Errorf("machine %q is not declared in the topology", machine)
	}
	return &remoteDriver{
		machine:    machine,
		executor:   s.executors(&config),
		configPath: s.topo.ConfigPath(),
		progress:   s.progress,
	}, nil
}

// StartAll starts the whole topology in phase order.
func (s *Session) StartAll(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	return s.startPlan(ctx, graph.All(s.topo))
}

// StartOptions modify Start.
type StartOptions struct {
	// OnlyDependencies starts everything the named service needs but
	// not the service itself, for running it out-of-band (debugger,
	// development build).
	OnlyDependencies bool
}

// Start starts the named service and its transitive dependencies.
func (s *Session) Start(ctx context.Context, name string, opts StartOptions) error {
	if err := s.begin(); err != nil {
		return err
	}
	target, err := s.topo.Service(name)
	if err != nil {
		return err
	}
	plan, err := graph.For(s.topo, name)
	if err != nil {
		return err
	}
	if opts.OnlyDependencies {
		plan = plan.WithoutPhaseOf(target.Kind)
	}
	return s.startPlan(ctx, plan)
}

// StartWorker starts the indexed elastic worker of a hub, first
// ensuring its dependencies are up.
func (s *Session) StartWorker(ctx context.Context, hubAlias string, index int) error {
	if err := s.begin(); err != nil {
		return err
	}
	plan, _, err := graph.ForWorker(s.topo, s.topo.Machine, hubAlias, index)
	if err != nil {
		return err
	}
	return s.startPlan(ctx, plan)
}

// startPlan executes a plan phase by phase. Services within a phase
// start concurrently; a phase must fully succeed before the next one
// begins, and a failed phase aborts the rest of the plan.
func (s *Session) startPlan(ctx context.Context, plan *graph.Plan) error {
	total := plan.Len()
	count := 0
	for _, phase := range plan.Phases {
		g, gctx := errgroup.WithContext(ctx)
		for _, config := range phase {
			count++
			count, config := count, config
			s.emit(count, total, config, lifecycle.StateStarting)
			g.Go(func() error {
				driver, err := s.driverFor(config.Machine)
				if err != nil {
					s.emit(count, total, config, lifecycle.StateFailed)
					return err
				}
				if err := driver.Start(gctx, config); err != nil {
					s.emit(count, total, config, lifecycle.StateFailed)
					return err
				}
				s.emit(count, total, config, lifecycle.StateReady)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// StopOptions modify the stop family of operations.
type StopOptions struct {
	// WithDependencies also stops the target's transitive dependency
	// closure, in reverse phase order.
	WithDependencies bool

	// Kill and Reset are forwarded to each per-service stop.
	Kill  bool
	Reset bool
}

// Stop stops the named service, optionally with its dependencies.
func (s *Session) Stop(ctx context.Context, name string, opts StopOptions) error {
	if err := s.begin(); err != nil {
		return err
	}
	var plan *graph.Plan
	if opts.WithDependencies {
		var err error
		plan, err = graph.For(s.topo, name)
		if err != nil {
			return err
		}
	} else {
		target, err := s.topo.Service(name)
		if err != nil {
			return err
		}
		plan = &graph.Plan{Phases: [][]*topology.ServiceConfig{{target}}}
	}
	return s.stopPlan(ctx, plan, lifecycle.StopOptions{Kill: opts.Kill, Reset: opts.Reset})
}

// StopKind stops every service of a kind. With dependents, every
// service from a later phase stops first, since later phases may hold
// connections into the kind being stopped.
func (s *Session) StopKind(ctx context.Context, kind topology.Kind, withDependents bool, opts StopOptions) error {
	if err := s.begin(); err != nil {
		return err
	}
	var selected []*topology.ServiceConfig
	for _, config := range s.topo.Services {
		if config.Kind == kind {
			selected = append(selected, config)
			continue
		}
		if withDependents && graph.PhaseOf(config.Kind) > graph.PhaseOf(kind) {
			selected = append(selected, config)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no services of kind %q in the topology", kind)
	}
	return s.stopPlan(ctx, graph.Group(selected), lifecycle.StopOptions{Kill: opts.Kill, Reset: opts.Reset})
}

// StopAll stops the whole topology in reverse phase order.
func (s *Session) StopAll(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	return s.stopPlan(ctx, graph.All(s.topo), lifecycle.StopOptions{})
}

// KillAll hard-kills the whole topology, then sweeps each machine for
// surviving grid-marked processes the topology no longer describes.
func (s *Session) KillAll(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	if err := s.stopPlan(ctx, graph.All(s.topo), lifecycle.StopOptions{Kill: true}); err != nil {
		return err
	}
	return s.sweep(ctx)
}

// ResetAll returns the grid to a blank slate: hard-stop everything,
// sweep stragglers, then wipe and reinitialize every stateful
// directory.
func (s *Session) ResetAll(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	if err := s.stopPlan(ctx, graph.All(s.topo), lifecycle.StopOptions{Kill: true}); err != nil {
		return err
	}
	if err := s.sweep(ctx); err != nil {
		return err
	}

	var stateful []*topology.ServiceConfig
	for _, config := range s.topo.Services {
		if config.Kind.Stateful() {
			stateful = append(stateful, config)
		}
	}
	total := len(stateful)
	for i, config := range stateful {
		driver, err := s.driverFor(config.Machine)
		if err != nil {
			return err
		}
		s.emit(i+1, total, config, lifecycle.StateStopping)
		if err := driver.Stop(ctx, config, lifecycle.StopOptions{Kill: true, Reset: true}); err != nil {
			s.emit(i+1, total, config, lifecycle.StateFailed)
			return err
		}
		s.emit(i+1, total, config, lifecycle.StateStopped)
	}
	return nil
}

// InstallAll prepares on-disk state for every service without starting
// anything.
func (s *Session) InstallAll(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	total := len(s.topo.Services)
	for i, config := range s.topo.Services {
		if err := s.installOne(ctx, config, i+1, total); err != nil {
			return err
		}
	}
	return nil
}

// Install prepares on-disk state for the named service.
func (s *Session) Install(ctx context.Context, name string) error {
	if err := s.begin(); err != nil {
		return err
	}
	config, err := s.topo.Service(name)
	if err != nil {
		return err
	}
	return s.installOne(ctx, config, 1, 1)
}

func (s *Session) installOne(ctx context.Context, config *topology.ServiceConfig, count, total int) error {
	driver, err := s.driverFor(config.Machine)
	if err != nil {
		return err
	}
	s.emit(count, total, config, lifecycle.StateStarting)
	if err := driver.Install(ctx, config); err != nil {
		s.emit(count, total, config, lifecycle.StateFailed)
		return err
	}
	s.emit(count, total, config, lifecycle.StateStopped)
	return nil
}

// stopPlan executes a plan in reverse phase order. As with start,
// services within a phase stop concurrently and phase boundaries are
// strict, so nothing loses a dependency that something later-phased
// still holds open.
func (s *Session) stopPlan(ctx context.Context, plan *graph.Plan, opts lifecycle.StopOptions) error {
	total := plan.Len()
	count := 0
	for i := len(plan.Phases) - 1; i >= 0; i-- {
		g, gctx := errgroup.WithContext(ctx)
		for _, config := range plan.Phases[i] {
			count++
			count, config := count, config
			s.emit(count, total, config, lifecycle.StateStopping)
			g.Go(func() error {
				driver, err := s.driverFor(config.Machine)
				if err != nil {
					s.emit(count, total, config, lifecycle.StateFailed)
					return err
				}
				if err := driver.Stop(gctx, config, opts); err != nil {
					s.emit(count, total, config, lifecycle.StateFailed)
					return err
				}
				s.emit(count, total, config, lifecycle.StateStopped)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// sweep force-kills stray grid processes on every machine the topology
// mentions, local machine last.
func (s *Session) sweep(ctx context.Context) error {
	machines := map[string]bool{}
	for _, config := range s.topo.Services {
		machines[config.Machine] = true
	}
	var names []string
	for name := range machines {
		if name != s.topo.Machine {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append(names, s.topo.Machine)

	for _, name := range names {
		driver, err := s.driverFor(name)
		if err != nil {
			return err
		}
		if err := driver.Sweep(ctx); err != nil {
			return fmt.Errorf("sweeping machine %q: %w", name, err)
		}
	}
	return nil
}

func (s *Session) emit(count, total int, config *topology.ServiceConfig, state lifecycle.State) {
	s.progress.Emit(lifecycle.Event{
		Count: count,
		Total: total,
		Kind:  config.Kind,
		State: state,
		Name:  config.Name,
	})
}
