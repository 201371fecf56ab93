// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote forwards install/start/stop operations to other
// machines. The orchestration runner is unaware whether a service is
// local or remote beyond choosing an Executor: the local executor
// re-invokes this tool as a subprocess, the SSH executor does the same
// on another machine over the transport. Both relay the remote
// invocation's progress stream back as local progress events.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
)

// ErrNotMaster is returned when a machine that is not the local master
// attempts a remote operation. Only the master may drive other
// machines; anything else risks orchestration loops where two machines
// recursively invoke each other.
var ErrNotMaster = errors.New("remote operations require the local-master machine")

// Executor runs devgrid operations on some machine and copies state
// files to it.
type Executor interface {
	// CopyFile transfers a local file to the given path on the
	// target machine, creating parent directories.
	CopyFile(ctx context.Context, localPath, remotePath string) error

	// Run invokes devgrid with the given arguments on the target
	// machine and decodes its progress stream into onEvent until the
	// invocation finishes.
	Run(ctx context.Context, args []string, onEvent func(lifecycle.Event)) error
}

// ProgressFlag is the hidden CLI flag that switches a devgrid
// invocation into machine-readable progress output: CBOR-framed
// events on stdout, logs on stderr. Executors append it to every
// remote invocation; the CLI recognizes it and encodes instead of
// rendering.
const ProgressFlag = "--progress-cbor"

// Subprocess is the Executor for the local machine: it re-invokes the
// devgrid binary as a child process. Used when an operation must run
// in a fresh process (remote relaying uses it on the far side), and by
// tests as a stand-in for the SSH path.
type Subprocess struct {
	// Binary is the devgrid binary to invoke.
	Binary string

	Logger *slog.Logger
}

// CopyFile implements Executor. On the local machine a copy is a plain
// file copy.
func (s *Subprocess) CopyFile(ctx context.Context, localPath, remotePath string) error {
	return copyLocalFile(localPath, remotePath)
}

// Run implements Executor.
func (s *Subprocess) Run(ctx context.Context, args []string, onEvent func(lifecycle.Event)) error {
	binary := s.Binary
	if binary == "" {
		binary = "devgrid"
	}
	cmd := exec.CommandContext(ctx, binary, append(args, ProgressFlag)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", binary, err)
	}
	go s.relayLogs(stderr)

	decodeErr := DecodeStream(stdout, onEvent)
	waitErr := cmd.Wait()
	if waitErr != nil {
		return fmt.Errorf("%s %v: %w", binary, args, waitErr)
	}
	return decodeErr
}

// relayLogs forwards the child's stderr lines through the logger so
// remote failures are diagnosable from the local terminal.
func (s *Subprocess) relayLogs(r io.Reader) {
	if s.Logger == nil {
		io.Copy(io.Discard, r) //nolint:errcheck drain
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Logger.Info("remote output", "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}
