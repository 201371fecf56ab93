// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package discover reconstructs live service handles from the OS
// process table. It is what makes devgrid stateless between
// invocations: no registry survives a CLI run, so every lifecycle call
// starts by asking this package what is actually running.
//
// Matching is two-staged. The command line is the cheap filter: each
// kind's launch binary and flag shape are distinctive. The DEVGRID_*
// marker environment variables are the authoritative signal: they
// identify which topology launched the process and carry its full
// resolved configuration, so a bare PID converts back into a
// ServiceConfig without consulting any file.
package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// ErrAmbiguous is returned when more than one process matches a
// signature that must be unique. That is an invariant violation; the
// caller must not guess which process to act on.
var ErrAmbiguous = errors.New("multiple processes match a unique service signature")

// Match is one discovered process of a kind.
type Match struct {
	// PID of the live process.
	PID int32

	// ConfigFile is the topology file recorded at launch, when known.
	ConfigFile string

	// Config is the resolved configuration reconstructed from the
	// process environment. Nil for a degraded handle: the command
	// line matched but the environment was unreadable, vanished
	// mid-read, or carries a different grid's marker (a foreign
	// process holding the same kind of resource).
	Config *topology.ServiceConfig
}

// Foreign reports whether the match is a process devgrid does not own.
func (m Match) Foreign() bool { return m.Config == nil }

// Scanner discovers services of one topology in the process table.
type Scanner struct {
	// Table is the process table source.
	Table Table

	// Grid filters marker variables to this topology's processes.
	Grid string

	// Logger records degraded reads at debug level.
	Logger *slog.Logger
}

// NewScanner returns a Scanner over the real process table.
func NewScanner(grid string, logger *slog.Logger) *Scanner {
	return &Scanner{Table: SystemTable(), Grid: grid, Logger: logger}
}

// Running returns every process whose command line matches the kind's
// signature. Processes of this grid come back with a reconstructed
// Config; foreign or unreadable ones come back degraded (Config nil)
// but with a valid PID, never as an error.
func (s *Scanner) Running(ctx context.Context, kind topology.Kind) ([]Match, error) {
	processes, err := s.Table.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning process table: %w", err)
	}

	var matches []Match
	for _, proc := range processes {
		argv, err := proc.Cmdline(ctx)
		if err != nil {
			// Vanished or unreadable between scan and read; it
			// cannot be identified, so it is not a match.
			continue
		}
		if !topology.MatchesCommand(kind, argv) {
			continue
		}

		match := Match{PID: proc.Pid()}
		environ, err := proc.Environ(ctx)
		if err != nil {
			s.logDegraded(proc.Pid(), kind, err)
			matches = append(matches, match)
			continue
		}
		grid, configFile, config, err := topology.DecodeEnviron(environ)
		if err != nil || grid != s.Grid {
			// A foreign process (no marker, malformed marker, or
			// another topology's marker) still occupies the
			// resource; report it degraded.
			s.logDegraded(proc.Pid(), kind, err)
			matches = append(matches, match)
			continue
		}
		if config.Kind != kind {
			// Marker disagrees with the command-line match; trust
			// the command line for occupancy, nothing more.
			matches = append(matches, match)
			continue
		}

		match.ConfigFile = configFile
		match.Config = config
		matches = append(matches, match)
	}
	return matches, nil
}

// RunningAll discovers every kind at once, keyed by kind. Kinds with no
// matching process are omitted.
func (s *Scanner) RunningAll(ctx context.Context) (map[topology.Kind][]Match, error) {
	all := make(map[topology.Kind][]Match)
	for _, kind := range topology.Kinds {
		matches, err := s.Running(ctx, kind)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			all[kind] = matches
		}
	}
	return all, nil
}

// Lookup finds the single process of this grid running the named
// service. Returns nil when none is found and ErrAmbiguous when more
// than one matches: two live processes claiming the same service name
// means the process table no longer satisfies the uniqueness invariant
// and no destructive action may proceed.
func (s *Scanner) Lookup(ctx context.Context, kind topology.Kind, name string) (*Match, error) {
	matches, err := s.Running(ctx, kind)
	if err != nil {
		return nil, err
	}

	var found *Match
	for i := range matches {
		match := matches[i]
		if match.Config == nil || match.Config.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("service %q: pids %d and %d: %w",
				name, found.PID, match.PID, ErrAmbiguous)
		}
		found = &match
	}
	return found, nil
}

// FromPID reconstructs the resolved configuration of a live process
// from its marker environment alone. This is the exact inverse of
// launching: the returned config rebuilds byte-identical launch
// arguments.
func (s *Scanner) FromPID(ctx context.Context, pid int32) (*topology.ServiceConfig, error) {
	processes, err := s.Table.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning process table: %w", err)
	}

	for _, proc := range processes {
		if proc.Pid() != pid {
			continue
		}
		environ, err := proc.Environ(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading environment of pid %d: %w", pid, err)
		}
		grid, _, config, err := topology.DecodeEnviron(environ)
		if err != nil {
			return nil, fmt.Errorf("pid %d: %w", pid, err)
		}
		if grid != s.Grid {
			return nil, fmt.Errorf("pid %d belongs to grid %q, not %q", pid, grid, s.Grid)
		}
		return config, nil
	}
	return nil, fmt.Errorf("no process with pid %d", pid)
}

// Gone reports whether no live process with the given PID remains in
// the table. Used by stop polling.
func (s *Scanner) Gone(ctx context.Context, pid int32) (bool, error) {
	processes, err := s.Table.Processes(ctx)
	if err != nil {
		return false, fmt.Errorf("scanning process table: %w", err)
	}
	for _, proc := range processes {
		if proc.Pid() == pid && proc.Alive(ctx) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scanner) logDegraded(pid int32, kind topology.Kind, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("degraded process handle",
		"pid", pid,
		"kind", kind,
		"error", err,
	)
}
