// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature guards shared stateful data directories with
// compatibility fingerprints. Independent processes that happen to
// point at the same document-store or cache-store directory use the
// registry to verify they were launched for the same logical dataset;
// a second writer with a conflicting signature is rejected before it
// can cross-contaminate the data.
//
// The registry file is the only on-disk state this system persists for
// its own bookkeeping. It is created at first install and mutated only
// by conflict-checked Add calls, never overwritten.
package signature

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"
	"github.com/zeebo/blake3"
)

// FileName is the registry file co-located with a stateful data
// directory.
const FileName = "devgrid-signatures.json"

// Signature is the compatibility fingerprint one logical consumer
// records against a data directory. Two consumers are compatible only
// if their signatures for the same name agree on every field.
type Signature struct {
	// Name identifies the logical consumer (typically the service
	// name). At most one signature per name may exist in a registry.
	Name string `json:"name"`

	// Kind is the service kind that wrote the signature.
	Kind string `json:"kind"`

	// ChainID is the upstream chain the consumer was configured
	// against.
	ChainID int64 `json:"chain_id"`

	// ContractAddress is the deployed hub contract the consumer
	// targets.
	ContractAddress string `json:"contract_address"`

	// AssetFlavor distinguishes native-asset from token deployments.
	AssetFlavor string `json:"asset_flavor,omitempty"`

	// KYC marks the enterprise flavor.
	KYC bool `json:"kyc,omitempty"`

	// DatasetID is the unique identifier of the upstream dataset,
	// when one applies.
	DatasetID string `json:"dataset_id,omitempty"`
}

// Fingerprint returns a stable content hash of the signature: the
// canonical JSON form (RFC 8785) hashed with BLAKE3. Two signatures
// are compatible exactly when their fingerprints are equal.
func (s Signature) Fingerprint() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling signature: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing signature: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}

// registryFile is the on-disk layout: one signature per consumer name.
type registryFile struct {
	Signatures map[string]Signature `json:"signatures"`
}

// Registry reads and conflict-checks signatures for one data directory.
type Registry struct {
	// Dir is the stateful data directory the registry guards.
	Dir string
}

// path returns the registry file location.
func (r *Registry) path() string {
	return filepath.Join(r.Dir, FileName)
}

// load reads the registry file, returning an empty registry when the
// file does not exist yet.
func (r *Registry) load() (*registryFile, error) {
	data, err := os.ReadFile(r.path())
	if errors.Is(err, os.ErrNotExist) {
		return &registryFile{Signatures: map[string]Signature{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading signature registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing signature registry %s: %w", r.path(), err)
	}
	if file.Signatures == nil {
		file.Signatures = map[string]Signature{}
	}
	return &file, nil
}

// Compatible reports whether the requested signature agrees
// field-for-field with any existing signature of the same name. A
// directory with no signature for the name is compatible (the
// requester would be the first writer).
func (r *Registry) Compatible(requested Signature) (bool, error) {
	file, err := r.load()
	if err != nil {
		return false, err
	}

	existing, ok := file.Signatures[requested.Name]
	if !ok {
		return true, nil
	}
	return fingerprintsEqual(existing, requested)
}

// Add records the signature if it does not conflict. Returns true when
// the signature was written (or already present and identical), false
// when an existing signature for the same name conflicts; the caller
// turns false into an "already running with a different configuration"
// user error. On conflict the on-disk registry is left untouched.
func (r *Registry) Add(requested Signature) (bool, error) {
	if requested.Name == "" {
		return false, fmt.Errorf("signature requires a consumer name")
	}

	file, err := r.load()
	if err != nil {
		return false, err
	}

	if existing, ok := file.Signatures[requested.Name]; ok {
		same, err := fingerprintsEqual(existing, requested)
		if err != nil {
			return false, err
		}
		// Identical re-add is idempotent; conflicting re-add is
		// refused without touching the file.
		return same, nil
	}

	file.Signatures[requested.Name] = requested
	if err := r.write(file); err != nil {
		return false, err
	}
	return true, nil
}

// Existing returns the recorded signature for a consumer name, if any.
func (r *Registry) Existing(name string) (Signature, bool, error) {
	file, err := r.load()
	if err != nil {
		return Signature{}, false, err
	}
	existing, ok := file.Signatures[name]
	return existing, ok, nil
}

// write persists the registry atomically (write-then-rename) so a
// crashed writer never leaves a truncated registry behind.
func (r *Registry) write(file *registryFile) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling signature registry: %w", err)
	}

	tmp := r.path() + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing signature registry: %w", err)
	}
	if err := os.Rename(tmp, r.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming signature registry: %w", err)
	}
	return nil
}

func fingerprintsEqual(a, b Signature) (bool, error) {
	fpA, err := a.Fingerprint()
	if err != nil {
		return false, err
	}
	fpB, err := b.Fingerprint()
	if err != nil {
		return false, err
	}
	return fpA == fpB, nil
}
