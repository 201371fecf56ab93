// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/devgrid-foundation/devgrid/lib/signature"
)

// chainService manages the development chain node. Readiness is a
// versioned RPC query: the node must answer eth_chainId with the
// configured chain id, not merely accept connections; ganache binds
// its port before the chain database is open.
type chainService struct {
	statefulBase
}

func (s *chainService) IsReady(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, s.config.URL())
	if err != nil {
		return err
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return err
	}
	if chainID.Int64() != s.config.ChainID {
		return fmt.Errorf("chain node at %s answers chain id %s, configured for %d",
			s.config.Endpoint(), chainID, s.config.ChainID)
	}
	return nil
}

// IsBusy rejects start when the chain database was created for a
// different chain identity. The marker is the chain node's equivalent
// of a DB signature: reusing the database under a different chain id
// would silently fork the dataset.
func (s *chainService) IsBusy(ctx context.Context) error {
	markerPath := filepath.Join(s.config.Directory, signature.ChainMarkerName)
	marker, err := signature.ReadChainMarker(markerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // fresh directory
		}
		// Unreadable marker is ambiguous; refuse rather than guess.
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	if marker.ChainID != s.config.ChainID || marker.ContractAddress != s.config.ContractAddress {
		return fmt.Errorf(
			"%w: chain database %s was created for chain %d / contract %s, configured chain %d / contract %s",
			ErrConflict, s.config.Directory,
			marker.ChainID, marker.ContractAddress,
			s.config.ChainID, s.config.ContractAddress)
	}
	return s.checkSignature()
}

func (s *chainService) Install(ctx context.Context) error {
	if err := s.statefulBase.Install(ctx); err != nil {
		return err
	}
	markerPath := filepath.Join(s.config.Directory, signature.ChainMarkerName)
	if _, err := os.Stat(markerPath); err == nil {
		// Existing marker was already compatibility-checked by
		// IsBusy; do not overwrite it.
		return nil
	}
	return signature.WriteChainMarker(markerPath, signature.ChainMarker{
		ChainID:         s.config.ChainID,
		ContractAddress: s.config.ContractAddress,
		Grid:            s.runtime.Grid,
	})
}

func (s *chainService) Reset(ctx context.Context) error {
	if err := s.statefulBase.Reset(ctx); err != nil {
		return err
	}
	// statefulBase.Reset reinstalled the registry only; rewrite the
	// chain identity marker as well.
	return s.Install(ctx)
}
