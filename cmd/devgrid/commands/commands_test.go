// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"testing"

	"github.com/devgrid-foundation/devgrid/lib/testutil"
)

const topologyYAML = `grid: devnet
machine: laptop
root: ${GRID_ROOT}
machines:
  beefy:
    host: 10.0.0.7
    user: grid
hubs:
  standard:
    chain_id: 65535
    contract_address: "0x01"
    asset_flavor: native
services:
  - name: chain
    kind: chain
    port: 8545
    hub: standard
    chain_id: 65535
  - name: mongo
    kind: mongo
    port: 27017
`

func writeTopology(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "devgrid.yaml", topologyYAML)
	t.Setenv("GRID_ROOT", dir)
	return path
}

func TestLoadResolvesAndValidates(t *testing.T) {
	path := writeTopology(t)
	grid := gridFlags{config: path}

	topo, err := grid.load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if topo.Machine != "laptop" {
		t.Errorf("machine = %q", topo.Machine)
	}
	if !topo.Resolved() {
		t.Error("topology not resolved")
	}
}

func TestLoadMachineOverride(t *testing.T) {
	path := writeTopology(t)
	grid := gridFlags{config: path}

	topo, err := grid.load("beefy")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if topo.Machine != "beefy" {
		t.Errorf("machine = %q, want the override", topo.Machine)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	path := writeTopology(t)
	t.Setenv("DEVGRID_CONFIG", path)

	grid := gridFlags{}
	if _, err := grid.load(""); err != nil {
		t.Fatalf("load via environment: %v", err)
	}
}

func TestRootTreeHasUniqueCommandNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, sub := range Root().Subcommands {
		if seen[sub.Name] {
			t.Errorf("duplicate command %q", sub.Name)
		}
		seen[sub.Name] = true
	}
	for _, required := range []string{"start", "stop", "kill", "install", "reset", "status"} {
		if !seen[required] {
			t.Errorf("command %q missing from the tree", required)
		}
	}
}
