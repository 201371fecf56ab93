// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devgrid-foundation/devgrid/lib/signature"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// ServiceFor returns the kind's Service implementation for a resolved
// configuration. The kind tag selects exactly one strategy; there is
// no open-ended dispatch.
func (r *Runtime) ServiceFor(config *topology.ServiceConfig) (Service, error) {
	base := base{config: config, runtime: r}
	switch config.Kind {
	case topology.KindChain:
		return &chainService{statefulBase{base}}, nil
	case topology.KindMongo:
		return &mongoService{statefulBase{base}}, nil
	case topology.KindRedis:
		return &redisService{statefulBase{base}}, nil
	case topology.KindDockerd:
		return &dockerdService{statefulBase{base}}, nil
	case topology.KindGateway:
		return &gatewayService{statefulBase{base}}, nil
	case topology.KindSMS, topology.KindResultProxy, topology.KindAdapter,
		topology.KindCore, topology.KindMarket:
		return &platformService{base}, nil
	case topology.KindWorker:
		return &workerService{base}, nil
	}
	return nil, fmt.Errorf("no lifecycle strategy for kind %q", config.Kind)
}

// base carries the behavior shared by every kind: the start contract,
// SIGTERM shutdown, and no-op install/reset/busy.
type base struct {
	config  *topology.ServiceConfig
	runtime *Runtime
}

func (b *base) Config() *topology.ServiceConfig { return b.config }

// CanStart enforces the start contract: the service must be declared
// for this machine and carry enough configuration to build a launch
// command.
func (b *base) CanStart() error {
	if b.config.Machine != b.runtime.Machine {
		return fmt.Errorf("service is declared for machine %q, this is %q (drive it through the remote bridge)",
			b.config.Machine, b.runtime.Machine)
	}
	if b.config.Hostname == "" || b.config.Port == 0 {
		return fmt.Errorf("incomplete configuration: hostname and port are required")
	}
	if b.config.Kind.Stateful() && b.config.Directory == "" {
		return fmt.Errorf("incomplete configuration: kind %q requires a data directory", b.config.Kind)
	}
	return nil
}

func (b *base) IsBusy(ctx context.Context) error { return nil }

func (b *base) Shutdown(ctx context.Context, pid int32) error {
	return b.runtime.Spawner.Terminate(pid)
}

func (b *base) Install(ctx context.Context) error {
	if b.config.Directory != "" {
		if err := os.MkdirAll(b.config.Directory, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if b.config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(b.config.LogFile), 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}
	return nil
}

func (b *base) Reset(ctx context.Context) error { return nil }

// statefulBase extends base for data-owning kinds: install records the
// DB compatibility signature, reset wipes the directory and reinstalls
// it empty.
type statefulBase struct {
	base
}

// dbSignature derives the compatibility fingerprint this consumer
// stamps on its data directory.
func (s *statefulBase) dbSignature() signature.Signature {
	return signature.Signature{
		Name:            s.config.Name,
		Kind:            string(s.config.Kind),
		ChainID:         s.config.ChainID,
		ContractAddress: s.config.ContractAddress,
		AssetFlavor:     s.config.AssetFlavor,
		KYC:             s.config.KYC,
		DatasetID:       s.config.DatasetID,
	}
}

func (s *statefulBase) Install(ctx context.Context) error {
	if err := s.base.Install(ctx); err != nil {
		return err
	}
	if !s.config.Kind.Signed() {
		return nil
	}

	registry := &signature.Registry{Dir: s.config.Directory}
	added, err := registry.Add(s.dbSignature())
	if err != nil {
		return fmt.Errorf("recording signature: %w", err)
	}
	if !added {
		existing, _, _ := registry.Existing(s.config.Name)
		return fmt.Errorf(
			"%w: directory %s is already signed for %q with chain %d / contract %s, requested chain %d / contract %s",
			ErrConflict, s.config.Directory, s.config.Name,
			existing.ChainID, existing.ContractAddress,
			s.config.ChainID, s.config.ContractAddress)
	}
	return nil
}

// checkSignature verifies this consumer is compatible with whatever is
// already stamped on the shared directory. Used by busy checks.
func (s *statefulBase) checkSignature() error {
	if !s.config.Kind.Signed() {
		return nil
	}
	registry := &signature.Registry{Dir: s.config.Directory}
	ok, err := registry.Compatible(s.dbSignature())
	if err != nil {
		return err
	}
	if !ok {
		existing, _, _ := registry.Existing(s.config.Name)
		return fmt.Errorf(
			"%w: directory %s already carries an incompatible signature for %q (chain %d / contract %s)",
			ErrConflict, s.config.Directory, s.config.Name,
			existing.ChainID, existing.ContractAddress)
	}
	return nil
}

// Reset wipes the directory's contents and reinstalls it empty. The
// directory itself is preserved so bind mounts and open shells keep
// working.
func (s *statefulBase) Reset(ctx context.Context) error {
	entries, err := os.ReadDir(s.config.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return s.Install(ctx)
		}
		return fmt.Errorf("reading directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.config.Directory, entry.Name())); err != nil {
			return fmt.Errorf("wiping %s: %w", entry.Name(), err)
		}
	}
	return s.Install(ctx)
}
