// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is one live entry in the OS process table. Cmdline and
// Environ may fail independently: a process can vanish between the
// table scan and the read, and reading another user's environment can
// be denied. Callers treat those failures as degraded information, not
// as scan errors.
type Process interface {
	Pid() int32
	Cmdline(ctx context.Context) ([]string, error)
	Environ(ctx context.Context) ([]string, error)
	Alive(ctx context.Context) bool
}

// Table lists the live processes. The system implementation reads the
// real process table; tests substitute a fake.
type Table interface {
	Processes(ctx context.Context) ([]Process, error)
}

// SystemTable returns the Table backed by the real OS process table.
func SystemTable() Table { return systemTable{} }

type systemTable struct{}

func (systemTable) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Process, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, systemProcess{p})
	}
	return entries, nil
}

type systemProcess struct {
	inner *process.Process
}

func (p systemProcess) Pid() int32 { return p.inner.Pid }

func (p systemProcess) Cmdline(ctx context.Context) ([]string, error) {
	return p.inner.CmdlineSliceWithContext(ctx)
}

func (p systemProcess) Environ(ctx context.Context) ([]string, error) {
	return p.inner.EnvironWithContext(ctx)
}

func (p systemProcess) Alive(ctx context.Context) bool {
	running, err := p.inner.IsRunningWithContext(ctx)
	return err == nil && running
}

// PIDAlive reports whether a bare PID (for example one read from a
// foreign database lock file) is still a live process.
func PIDAlive(ctx context.Context, pid int32) bool {
	running, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && running
}
