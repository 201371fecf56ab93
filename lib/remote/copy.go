// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyLocalFile copies src to dst on the local filesystem, creating
// parent directories. The write goes through a temporary file so a
// crash never leaves a half-copied state file behind.
func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".devgrid-copy-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
