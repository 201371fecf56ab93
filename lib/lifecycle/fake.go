// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"sync"

	"github.com/devgrid-foundation/devgrid/lib/discover"
)

// FakeSpawner is a Spawner backed by a discover.FakeTable, used by the
// lifecycle and runner test suites. Spawn registers the process in the
// table; Terminate and Kill remove it, simulating immediate exit.
type FakeSpawner struct {
	Table *discover.FakeTable

	// IgnoreTerminate simulates a process that does not honor its
	// graceful shutdown, for exercising the stop poll ceiling.
	IgnoreTerminate bool

	mu         sync.Mutex
	spawned    int
	terminated []int32
	killed     []int32
}

// NewFakeSpawner returns a FakeSpawner over the given table.
func NewFakeSpawner(table *discover.FakeTable) *FakeSpawner {
	return &FakeSpawner{Table: table}
}

// Spawn implements Spawner.
func (f *FakeSpawner) Spawn(ctx context.Context, argv, environ []string, logFile string) (int32, error) {
	f.mu.Lock()
	f.spawned++
	f.mu.Unlock()
	return f.Table.Add(argv, environ).Pid(), nil
}

// Terminate implements Spawner.
func (f *FakeSpawner) Terminate(pid int32) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, pid)
	f.mu.Unlock()
	if !f.IgnoreTerminate {
		f.Table.Remove(pid)
	}
	return nil
}

// Kill implements Spawner.
func (f *FakeSpawner) Kill(pid int32) error {
	f.mu.Lock()
	f.killed = append(f.killed, pid)
	f.mu.Unlock()
	f.Table.Remove(pid)
	return nil
}

// SpawnCount returns how many processes were spawned.
func (f *FakeSpawner) SpawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawned
}

// Killed returns the PIDs that received the hard signal.
func (f *FakeSpawner) Killed() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.killed...)
}

// Terminated returns the PIDs that received the graceful signal.
func (f *FakeSpawner) Terminated() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.terminated...)
}
