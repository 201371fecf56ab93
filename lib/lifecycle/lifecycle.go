// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle drives individual services through their start,
// readiness, and stop protocol.
//
// The state machine (unknown → starting → started → readying → ready,
// any → stopping → stopped, failed terminal) is conceptual: no state
// survives a CLI invocation, so every call re-derives the current
// state from the OS process table via lib/discover before acting.
//
// Kind-specific behavior (readiness probe, graceful shutdown, install,
// busy check) lives behind the Service interface with exactly one
// implementation per kind, selected through the kind tag. The generic
// machinery (idempotent start, detached spawn, bounded polling) is
// the Runtime and is shared by all kinds.
package lifecycle

import (
	"context"
	"errors"

	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// State is a point in the service lifecycle.
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateReadying State = "readying"
	StateReady    State = "ready"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// ErrConflict marks fatal resource conflicts: an incompatible DB
// signature, or a foreign process holding the same resource. Never
// retried, never auto-resolved.
var ErrConflict = errors.New("conflicting service state")

// Instance is a live handle on a running (or just-spawned) service.
// Instances are transient: they are re-derived from the process table
// on every call and never persisted.
type Instance struct {
	PID    int32
	Config *topology.ServiceConfig
	State  State
}

// Event is one progress notification from a long-running orchestration
// call. It is the sole observability channel exposed to callers.
type Event struct {
	// Count and Total track overall progress of the enclosing
	// operation.
	Count int `cbor:"count" json:"count"`
	Total int `cbor:"total" json:"total"`

	// Kind, State, and Name identify what just happened.
	Kind  topology.Kind `cbor:"kind" json:"kind"`
	State State         `cbor:"state" json:"state"`
	Name  string        `cbor:"name" json:"name"`
}

// Progress receives Events. A nil Progress is valid and discards them.
type Progress func(Event)

// Emit invokes the callback if one is set.
func (p Progress) Emit(event Event) {
	if p != nil {
		p(event)
	}
}

// Service is the per-kind behavior strategy. Implementations are
// stateless aside from their configuration; all bookkeeping goes
// through the Runtime.
type Service interface {
	// Config returns the resolved configuration.
	Config() *topology.ServiceConfig

	// CanStart verifies the start contract: the service is local to
	// this machine and carries enough configuration to build a
	// launch command. Violations are configuration errors.
	CanStart() error

	// IsBusy checks whether an incompatible foreign process already
	// holds the service's resource (for example a database lock file
	// referencing a live PID). A non-nil result is fatal and wraps
	// ErrConflict.
	IsBusy(ctx context.Context) error

	// IsReady performs one readiness probe attempt.
	IsReady(ctx context.Context) error

	// Shutdown initiates a kind-specific graceful stop of the given
	// process (admin command or SIGTERM).
	Shutdown(ctx context.Context, pid int32) error

	// Install prepares the service's on-disk state: directories,
	// identity markers, and the DB compatibility signature.
	Install(ctx context.Context) error

	// Reset destructively wipes and reinitializes the stateful
	// directory. Only meaningful for data-owning kinds; a no-op for
	// the rest.
	Reset(ctx context.Context) error
}
