// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"context"
	"errors"
	"sync"
)

// FakeTable is an in-memory process table for tests, shared by the
// lifecycle and runner test suites. It implements Table.
type FakeTable struct {
	mu      sync.Mutex
	nextPID int32
	entries map[int32]*FakeProcess
}

// FakeProcess is one fake table entry.
type FakeProcess struct {
	pid     int32
	argv    []string
	environ []string

	// EnvironErr, when set, simulates an unreadable environment
	// (permission denied, process vanished mid-read).
	EnvironErr error
}

// NewFakeTable returns an empty fake process table.
func NewFakeTable() *FakeTable {
	return &FakeTable{nextPID: 100, entries: make(map[int32]*FakeProcess)}
}

// Add registers a fake process and returns it.
func (t *FakeTable) Add(argv, environ []string) *FakeProcess {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPID++
	proc := &FakeProcess{pid: t.nextPID, argv: argv, environ: environ}
	t.entries[proc.pid] = proc
	return proc
}

// Remove deletes a process, simulating its exit.
func (t *FakeTable) Remove(pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pid)
}

// Contains reports whether the pid is still in the table.
func (t *FakeTable) Contains(pid int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[pid]
	return ok
}

// Processes implements Table.
func (t *FakeTable) Processes(ctx context.Context) ([]Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	procs := make([]Process, 0, len(t.entries))
	for _, proc := range t.entries {
		procs = append(procs, proc)
	}
	return procs, nil
}

// Pid implements Process.
func (p *FakeProcess) Pid() int32 { return p.pid }

// Cmdline implements Process.
func (p *FakeProcess) Cmdline(ctx context.Context) ([]string, error) {
	return append([]string(nil), p.argv...), nil
}

// Environ implements Process.
func (p *FakeProcess) Environ(ctx context.Context) ([]string, error) {
	if p.EnvironErr != nil {
		return nil, p.EnvironErr
	}
	return append([]string(nil), p.environ...), nil
}

// Alive implements Process.
func (p *FakeProcess) Alive(ctx context.Context) bool { return true }

// ErrEnvironUnreadable is a ready-made error for EnvironErr.
var ErrEnvironUnreadable = errors.New("environ unreadable")
