// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/devgrid-foundation/devgrid/lib/clock"
	"github.com/devgrid-foundation/devgrid/lib/discover"
	"github.com/devgrid-foundation/devgrid/lib/signature"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

type testHarness struct {
	table   *discover.FakeTable
	spawner *FakeSpawner
	clock   *clock.Fake
	runtime *Runtime
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	table := discover.NewFakeTable()
	spawner := NewFakeSpawner(table)
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	return &testHarness{
		table:   table,
		spawner: spawner,
		clock:   fakeClock,
		runtime: &Runtime{
			Clock:        fakeClock,
			Scanner:      &discover.Scanner{Table: table, Grid: "devnet"},
			Spawner:      spawner,
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			Machine:      "laptop",
			Grid:         "devnet",
			ConfigPath:   "/srv/grid/grid.yaml",
			PollInterval: 100 * time.Millisecond,
			PollLimit:    5,
			ProbeTimeout: time.Second,
		},
	}
}

// drive advances the fake clock until done closes, unblocking bounded
// poll loops that wait between attempts.
func (h *testHarness) drive(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			h.clock.Advance(h.runtime.PollInterval)
			runtime.Gosched()
			time.Sleep(time.Millisecond) //nolint:realclock yield to the poller
		}
	}
}

func workerConfig(dir string) *topology.ServiceConfig {
	return &topology.ServiceConfig{
		Name:      "worker-standard-0",
		Kind:      topology.KindWorker,
		Hostname:  "127.0.0.1",
		Port:      18100,
		Directory: dir,
		Hub:       "standard",
		Machine:   "laptop",
		CoreURL:   "http://127.0.0.1:13000",
	}
}

func osWriteFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fakeService is a controllable strategy for exercising the generic
// Runtime machinery without touching real probes.
type fakeService struct {
	base
	readyAfter int // probes that fail before success; <0 never ready
	probes     int
	busyErr    error
}

func (s *fakeService) IsReady(ctx context.Context) error {
	s.probes++
	if s.readyAfter < 0 || s.probes <= s.readyAfter {
		return errors.New("not accepting connections yet")
	}
	return nil
}

func (s *fakeService) IsBusy(ctx context.Context) error { return s.busyErr }

func newFakeService(h *testHarness, config *topology.ServiceConfig) *fakeService {
	return &fakeService{base: base{config: config, runtime: h.runtime}}
}

func TestStartSpawnsAndReachesReady(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))

	instance, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if instance.State != StateReady {
		t.Errorf("state = %s, want %s", instance.State, StateReady)
	}
	if !h.table.Contains(instance.PID) {
		t.Error("spawned process not in table")
	}
	if svc.probes != 1 {
		t.Errorf("probes = %d, want 1", svc.probes)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))

	first, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if first.PID != second.PID {
		t.Errorf("pids differ across idempotent starts: %d vs %d", first.PID, second.PID)
	}
	if h.spawner.SpawnCount() != 1 {
		t.Errorf("spawned %d processes, want 1", h.spawner.SpawnCount())
	}
}

func TestStartFailsAfterExactPollCeiling(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))
	svc.readyAfter = -1 // never ready

	done := make(chan struct{})
	var startErr error
	var instance *Instance
	go func() {
		defer close(done)
		instance, startErr = h.runtime.Start(context.Background(), svc)
	}()
	h.drive(done)

	if startErr == nil {
		t.Fatal("Start succeeded for a service that never becomes ready")
	}
	if svc.probes != h.runtime.PollLimit {
		t.Errorf("probes = %d, want exactly %d", svc.probes, h.runtime.PollLimit)
	}
	if instance == nil || instance.State != StateFailed {
		t.Errorf("instance state = %+v, want failed", instance)
	}
}

func TestStartSucceedsWithinBudget(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))
	svc.readyAfter = 3

	done := make(chan struct{})
	var startErr error
	go func() {
		defer close(done)
		_, startErr = h.runtime.Start(context.Background(), svc)
	}()
	h.drive(done)

	if startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	if svc.probes != 4 {
		t.Errorf("probes = %d, want 4", svc.probes)
	}
}

func TestStartRefusesBusyResource(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))
	svc.busyErr = ErrConflict

	_, err := h.runtime.Start(context.Background(), svc)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if h.spawner.SpawnCount() != 0 {
		t.Error("busy service was spawned anyway")
	}
}

func TestStartRefusesRemoteService(t *testing.T) {
	h := newHarness(t)
	config := workerConfig(t.TempDir())
	config.Machine = "rack-42"
	svc := newFakeService(h, config)

	if _, err := h.runtime.Start(context.Background(), svc); err == nil {
		t.Fatal("expected CanStart refusal for remote service")
	}
}

func TestStopGraceful(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))

	instance, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.runtime.Stop(context.Background(), svc, StopOptions{}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.table.Contains(instance.PID) {
		t.Error("process still in table after stop")
	}
	if got := h.spawner.Terminated(); len(got) != 1 || got[0] != instance.PID {
		t.Errorf("terminated pids = %v", got)
	}
}

func TestStopIdempotentWhenNotRunning(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService(h, workerConfig(t.TempDir()))
	if err := h.runtime.Stop(context.Background(), svc, StopOptions{}); err != nil {
		t.Fatalf("Stop of non-running service: %v", err)
	}
}

func TestStopFailsLoudlyWhenProcessLingers(t *testing.T) {
	h := newHarness(t)
	h.spawner.IgnoreTerminate = true
	svc := newFakeService(h, workerConfig(t.TempDir()))

	instance, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	var stopErr error
	go func() {
		defer close(done)
		stopErr = h.runtime.Stop(context.Background(), svc, StopOptions{})
	}()
	h.drive(done)

	if stopErr == nil {
		t.Fatal("Stop succeeded though the process never exited")
	}
	// No silent fallback kill.
	if len(h.spawner.Killed()) != 0 {
		t.Errorf("stop escalated to SIGKILL: %v", h.spawner.Killed())
	}
	if !h.table.Contains(instance.PID) {
		t.Error("process removed from table without a kill")
	}
}

func TestStopKillSkipsGracefulPath(t *testing.T) {
	h := newHarness(t)
	h.spawner.IgnoreTerminate = true
	svc := newFakeService(h, workerConfig(t.TempDir()))

	instance, err := h.runtime.Start(context.Background(), svc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.runtime.Stop(context.Background(), svc, StopOptions{Kill: true}); err != nil {
		t.Fatalf("Stop with kill: %v", err)
	}
	if len(h.spawner.Terminated()) != 0 {
		t.Error("kill variant still sent the graceful signal")
	}
	if got := h.spawner.Killed(); len(got) != 1 || got[0] != instance.PID {
		t.Errorf("killed pids = %v", got)
	}
}

func TestInstallRecordsSignatureAndConflicts(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	config := &topology.ServiceConfig{
		Name: "mongo", Kind: topology.KindMongo, Hostname: "127.0.0.1",
		Port: 27017, Directory: dir, Machine: "laptop", ChainID: 1337,
		ContractAddress: "0x01",
	}
	svc, err := h.runtime.ServiceFor(config)
	if err != nil {
		t.Fatalf("ServiceFor: %v", err)
	}
	if err := h.runtime.Install(context.Background(), svc); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// A second consumer of the same directory with another chain id
	// must be refused with a conflict, and start must refuse too.
	conflicting := config.Clone()
	conflicting.ChainID = 1338
	conflictSvc, err := h.runtime.ServiceFor(conflicting)
	if err != nil {
		t.Fatalf("ServiceFor: %v", err)
	}
	if err := h.runtime.Install(context.Background(), conflictSvc); !errors.Is(err, ErrConflict) {
		t.Fatalf("conflicting install error = %v, want ErrConflict", err)
	}
	if _, err := h.runtime.Start(context.Background(), conflictSvc); !errors.Is(err, ErrConflict) {
		t.Fatalf("conflicting start error = %v, want ErrConflict", err)
	}

	registry := &signature.Registry{Dir: dir}
	existing, found, err := registry.Existing("mongo")
	if err != nil || !found {
		t.Fatalf("Existing: %v found=%v", err, found)
	}
	if existing.ChainID != 1337 {
		t.Errorf("on-disk signature chain id = %d, want 1337", existing.ChainID)
	}
}

func TestChainInstallWritesMarkerAndBusyChecksIt(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	config := &topology.ServiceConfig{
		Name: "chain", Kind: topology.KindChain, Hostname: "127.0.0.1",
		Port: 8545, Directory: dir, Machine: "laptop", ChainID: 65535,
		ContractAddress: "0x01",
	}
	svc, err := h.runtime.ServiceFor(config)
	if err != nil {
		t.Fatalf("ServiceFor: %v", err)
	}
	if err := h.runtime.Install(context.Background(), svc); err != nil {
		t.Fatalf("Install: %v", err)
	}

	marker, err := signature.ReadChainMarker(filepath.Join(dir, signature.ChainMarkerName))
	if err != nil {
		t.Fatalf("ReadChainMarker: %v", err)
	}
	if marker.ChainID != 65535 || marker.Grid != "devnet" {
		t.Errorf("marker = %+v", marker)
	}

	// Same identity: not busy.
	if err := svc.IsBusy(context.Background()); err != nil {
		t.Errorf("compatible chain database reported busy: %v", err)
	}

	// Different chain identity against the same database: conflict.
	foreign := config.Clone()
	foreign.ChainID = 1337
	foreignSvc, _ := h.runtime.ServiceFor(foreign)
	if err := foreignSvc.IsBusy(context.Background()); !errors.Is(err, ErrConflict) {
		t.Errorf("foreign chain identity busy error = %v, want ErrConflict", err)
	}
}

func TestStatefulResetWipesAndReinstalls(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	config := &topology.ServiceConfig{
		Name: "chain", Kind: topology.KindChain, Hostname: "127.0.0.1",
		Port: 8545, Directory: dir, Machine: "laptop", ChainID: 65535,
		ContractAddress: "0x01",
	}
	svc, _ := h.runtime.ServiceFor(config)
	if err := h.runtime.Install(context.Background(), svc); err != nil {
		t.Fatalf("Install: %v", err)
	}
	junk := filepath.Join(dir, "chaindata")
	if err := osWriteFile(junk, "blocks"); err != nil {
		t.Fatalf("writing junk: %v", err)
	}

	if err := svc.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fileExists(junk) {
		t.Error("reset left old data behind")
	}
	if !fileExists(filepath.Join(dir, signature.ChainMarkerName)) {
		t.Error("reset did not reinitialize the chain marker")
	}
}

func TestServiceForCoversEveryKind(t *testing.T) {
	h := newHarness(t)
	for _, kind := range topology.Kinds {
		config := &topology.ServiceConfig{
			Name: "svc-" + string(kind), Kind: kind, Hostname: "127.0.0.1",
			Port: 1000, Directory: t.TempDir(), Machine: "laptop",
		}
		if _, err := h.runtime.ServiceFor(config); err != nil {
			t.Errorf("ServiceFor(%s): %v", kind, err)
		}
	}
}
