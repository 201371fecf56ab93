// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// ChainMarker is the chain node's database identity: which chain id
// the database was created for and where the hub contract was
// deployed. It is written at install, checked before reusing an
// existing chain database, and copied to remote machines ahead of a
// remote install so both sides agree on the chain identity.
//
// Marker files are hand-editable during development and may carry //
// comments; reads go through a comment-stripping pass first.
type ChainMarker struct {
	ChainID         int64  `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	Grid            string `json:"grid"`
}

// ChainMarkerName is the marker file inside a chain data directory.
const ChainMarkerName = "devgrid-chain.json"

// ReadChainMarker parses a chain marker file, tolerating comments.
func ReadChainMarker(path string) (ChainMarker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChainMarker{}, fmt.Errorf("reading chain marker: %w", err)
	}

	var marker ChainMarker
	if err := json.Unmarshal(jsonc.ToJSON(data), &marker); err != nil {
		return ChainMarker{}, fmt.Errorf("parsing chain marker %s: %w", path, err)
	}
	if marker.ChainID == 0 {
		return ChainMarker{}, fmt.Errorf("chain marker %s has no chain_id", path)
	}
	return marker, nil
}

// WriteChainMarker writes the marker atomically.
func WriteChainMarker(path string, marker ChainMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chain marker: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing chain marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming chain marker: %w", err)
	}
	return nil
}
