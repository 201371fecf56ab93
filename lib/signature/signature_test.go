// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devgrid-foundation/devgrid/lib/testutil"
)

func testSignature() Signature {
	return Signature{
		Name:            "core",
		Kind:            "mongo",
		ChainID:         1337,
		ContractAddress: "0xBF6B2B07e47326B7c8bfCb4A5460bef9f0Fd2002",
		AssetFlavor:     "native",
	}
}

func TestAddFirstWriterCreatesRegistry(t *testing.T) {
	registry := &Registry{Dir: t.TempDir()}

	ok, err := registry.Add(testSignature())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !ok {
		t.Fatal("first Add returned false")
	}

	if _, err := os.Stat(filepath.Join(registry.Dir, FileName)); err != nil {
		t.Fatalf("registry file not created: %v", err)
	}
}

func TestAddIdenticalIsIdempotent(t *testing.T) {
	registry := &Registry{Dir: t.TempDir()}
	sig := testSignature()

	if _, err := registry.Add(sig); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ok, err := registry.Add(sig)
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !ok {
		t.Fatal("identical re-add reported a conflict")
	}
}

func TestAddConflictRefusedAndDiskUnchanged(t *testing.T) {
	registry := &Registry{Dir: t.TempDir()}
	original := testSignature()
	original.ChainID = 1337
	if _, err := registry.Add(original); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before := testutil.ReadFile(t, registry.Dir, FileName)

	conflicting := original
	conflicting.ChainID = 1338
	ok, err := registry.Add(conflicting)
	if err != nil {
		t.Fatalf("conflicting Add errored instead of returning false: %v", err)
	}
	if ok {
		t.Fatal("conflicting Add returned true")
	}

	after := testutil.ReadFile(t, registry.Dir, FileName)
	if before != after {
		t.Error("registry file changed by a refused Add")
	}

	existing, found, err := registry.Existing(original.Name)
	if err != nil || !found {
		t.Fatalf("Existing: %v found=%v", err, found)
	}
	if existing.ChainID != 1337 {
		t.Errorf("on-disk chain id = %d, want 1337", existing.ChainID)
	}
}

func TestCompatible(t *testing.T) {
	registry := &Registry{Dir: t.TempDir()}
	sig := testSignature()

	// Unsigned directory: first writer is compatible.
	ok, err := registry.Compatible(sig)
	if err != nil || !ok {
		t.Fatalf("Compatible on empty dir = %v, %v", ok, err)
	}

	if _, err := registry.Add(sig); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err = registry.Compatible(sig)
	if err != nil || !ok {
		t.Fatalf("Compatible with identical sig = %v, %v", ok, err)
	}

	other := sig
	other.KYC = true
	ok, err = registry.Compatible(other)
	if err != nil {
		t.Fatalf("Compatible: %v", err)
	}
	if ok {
		t.Error("KYC-flavor mismatch reported compatible")
	}

	// A different consumer name is a separate slot, not a conflict.
	separate := sig
	separate.Name = "sms"
	separate.ChainID = 9999
	ok, err = registry.Compatible(separate)
	if err != nil || !ok {
		t.Errorf("different consumer name treated as conflict: %v, %v", ok, err)
	}
}

func TestAddRequiresName(t *testing.T) {
	registry := &Registry{Dir: t.TempDir()}
	if _, err := registry.Add(Signature{ChainID: 1}); err == nil {
		t.Fatal("expected error for unnamed signature")
	}
}

func TestFingerprintStable(t *testing.T) {
	first, err := testSignature().Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	second, err := testSignature().Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if first != second {
		t.Error("fingerprint not deterministic")
	}

	changed := testSignature()
	changed.DatasetID = "dataset-7"
	third, _ := changed.Fingerprint()
	if third == first {
		t.Error("fingerprint ignores dataset id")
	}
}

func TestChainMarkerRoundTripWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ChainMarkerName)

	marker := ChainMarker{ChainID: 65535, ContractAddress: "0x01", Grid: "devnet"}
	if err := WriteChainMarker(path, marker); err != nil {
		t.Fatalf("WriteChainMarker: %v", err)
	}
	read, err := ReadChainMarker(path)
	if err != nil {
		t.Fatalf("ReadChainMarker: %v", err)
	}
	if read != marker {
		t.Errorf("round trip: got %+v, want %+v", read, marker)
	}

	// Hand-edited marker with comments still parses.
	commented := testutil.WriteFile(t, dir, "commented.json",
		"{\n  // local devnet\n  \"chain_id\": 1337,\n  \"contract_address\": \"0x02\"\n}\n")
	read, err = ReadChainMarker(commented)
	if err != nil {
		t.Fatalf("ReadChainMarker with comments: %v", err)
	}
	if read.ChainID != 1337 {
		t.Errorf("chain id = %d", read.ChainID)
	}
}

func TestReadChainMarkerRejectsMissingChainID(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "empty.json", "{}")
	if _, err := ReadChainMarker(path); err == nil {
		t.Fatal("expected error for marker without chain_id")
	}
}
