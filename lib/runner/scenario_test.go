// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/devgrid-foundation/devgrid/lib/clock"
	"github.com/devgrid-foundation/devgrid/lib/discover"
	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// scenarioService is a lifecycle.Service that is always startable and
// immediately ready, so the whole-grid scenario runs through the real
// Runtime (spawn, discovery, adoption, stop) without network probes.
type scenarioService struct {
	config  *topology.ServiceConfig
	spawner *lifecycle.FakeSpawner
}

func (s *scenarioService) Config() *topology.ServiceConfig { return s.config }
func (s *scenarioService) CanStart() error                 { return nil }
func (s *scenarioService) IsBusy(ctx context.Context) error {
	return nil
}
func (s *scenarioService) IsReady(ctx context.Context) error { return nil }
func (s *scenarioService) Shutdown(ctx context.Context, pid int32) error {
	return s.spawner.Terminate(pid)
}
func (s *scenarioService) Install(ctx context.Context) error { return nil }
func (s *scenarioService) Reset(ctx context.Context) error   { return nil }

// runtimeDriver routes session operations through a real Runtime over
// the fake process table.
type runtimeDriver struct {
	runtime *lifecycle.Runtime
	spawner *lifecycle.FakeSpawner
}

func (d *runtimeDriver) service(config *topology.ServiceConfig) lifecycle.Service {
	return &scenarioService{config: config, spawner: d.spawner}
}

func (d *runtimeDriver) Install(ctx context.Context, config *topology.ServiceConfig) error {
	return d.runtime.Install(ctx, d.service(config))
}

func (d *runtimeDriver) Start(ctx context.Context, config *topology.ServiceConfig) error {
	_, err := d.runtime.Start(ctx, d.service(config))
	return err
}

func (d *runtimeDriver) Stop(ctx context.Context, config *topology.ServiceConfig, opts lifecycle.StopOptions) error {
	return d.runtime.Stop(ctx, d.service(config), opts)
}

func (d *runtimeDriver) Sweep(ctx context.Context) error {
	matches, err := d.runtime.Scanner.RunningAll(ctx)
	if err != nil {
		return err
	}
	for _, kindMatches := range matches {
		for _, match := range kindMatches {
			if !match.Foreign() {
				if err := d.runtime.Spawner.Kill(match.PID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func newScenario(t *testing.T, topo *topology.Topology) (*runtimeDriver, *discover.Scanner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := discover.NewFakeTable()
	spawner := lifecycle.NewFakeSpawner(table)
	scanner := &discover.Scanner{Table: table, Grid: topo.Grid, Logger: logger}
	runtime := &lifecycle.Runtime{
		Clock:        clock.NewFake(time.Unix(1700000000, 0)),
		Scanner:      scanner,
		Spawner:      spawner,
		Logger:       logger,
		Machine:      topo.Machine,
		Grid:         topo.Grid,
		ConfigPath:   topo.ConfigPath(),
		PollInterval: 100 * time.Millisecond,
		PollLimit:    5,
		ProbeTimeout: time.Second,
	}
	return &runtimeDriver{runtime: runtime, spawner: spawner}, scanner
}

// TestGridScenario drives the whole loop the tool exists for: start the
// topology, rediscover every service from the process table, stop the
// topology, then start again and verify the second run reproduces the
// first run's launch commands exactly.
func TestGridScenario(t *testing.T) {
	topo := testTopology(t)
	driver, scanner := newScenario(t, topo)
	ctx := context.Background()

	firstRun, err := NewSession(topo, Options{Driver: driver})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := firstRun.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	// Every authored service must be rediscoverable, with the full
	// configuration reconstructed from the marker environment.
	firstArgs := make(map[string][]string)
	for _, config := range topo.Services {
		match, err := scanner.Lookup(ctx, config.Kind, config.Name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", config.Name, err)
		}
		if match == nil {
			t.Fatalf("service %q not discoverable after start", config.Name)
		}
		if match.Foreign() {
			t.Fatalf("service %q rediscovered degraded", config.Name)
		}
		if match.Config.Name != config.Name || match.Config.Kind != config.Kind ||
			match.Config.Port != config.Port || match.Config.Directory != config.Directory {
			t.Errorf("service %q reconstructed config drifted: %+v", config.Name, match.Config)
		}
		firstArgs[config.Name] = match.Config.LaunchArgs()
	}

	if err := firstRun.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	for _, config := range topo.Services {
		match, err := scanner.Lookup(ctx, config.Kind, config.Name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", config.Name, err)
		}
		if match != nil {
			t.Errorf("service %q still in the process table after stop-all", config.Name)
		}
	}

	secondRun, err := NewSession(topo, Options{Driver: driver})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := secondRun.StartAll(ctx); err != nil {
		t.Fatalf("second StartAll: %v", err)
	}
	for _, config := range topo.Services {
		match, err := scanner.Lookup(ctx, config.Kind, config.Name)
		if err != nil || match == nil || match.Foreign() {
			t.Fatalf("service %q not rediscoverable after restart (%v)", config.Name, err)
		}
		if !reflect.DeepEqual(match.Config.LaunchArgs(), firstArgs[config.Name]) {
			t.Errorf("service %q launch args drifted across stop/start:\n first: %v\nsecond: %v",
				config.Name, firstArgs[config.Name], match.Config.LaunchArgs())
		}
	}
}

// TestGridScenarioIdempotentRestart starts the grid twice without a
// stop in between: the second run must adopt every running process and
// spawn nothing new.
func TestGridScenarioIdempotentRestart(t *testing.T) {
	topo := testTopology(t)
	driver, _ := newScenario(t, topo)
	ctx := context.Background()

	firstRun, err := NewSession(topo, Options{Driver: driver})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := firstRun.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	spawned := driver.spawner.SpawnCount()
	if spawned != len(topo.Services) {
		t.Fatalf("spawned %d processes, want %d", spawned, len(topo.Services))
	}

	secondRun, err := NewSession(topo, Options{Driver: driver})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := secondRun.StartAll(ctx); err != nil {
		t.Fatalf("second StartAll: %v", err)
	}
	if driver.spawner.SpawnCount() != spawned {
		t.Errorf("restart spawned %d extra processes", driver.spawner.SpawnCount()-spawned)
	}
}
