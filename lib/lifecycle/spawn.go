// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawner abstracts process creation and signaling so the lifecycle
// machinery can be tested against a fake process table. The production
// implementation spawns detached OS processes; the fake registers
// entries in a discover.FakeTable.
type Spawner interface {
	// Spawn launches argv detached from the orchestrator, with the
	// given marker environment appended to the inherited one, stdout
	// and stderr redirected to logFile (or discarded when empty).
	// Returns the child PID.
	Spawn(ctx context.Context, argv, environ []string, logFile string) (int32, error)

	// Terminate sends the graceful termination signal (SIGTERM).
	Terminate(pid int32) error

	// Kill sends the hard termination signal (SIGKILL).
	Kill(pid int32) error
}

// OSSpawner is the production Spawner.
type OSSpawner struct{}

// Spawn launches the service in its own session (Setsid) so it
// survives this CLI process and does not share its controlling
// terminal. The child is reaped in the background to avoid zombies
// while the CLI is still running; once the CLI exits, init adopts the
// detached child.
func (OSSpawner) Spawn(ctx context.Context, argv, environ []string, logFile string) (int32, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty launch command")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, fmt.Errorf("locating %q: %w", argv[0], err)
	}

	// The context gates the spawn but never bounds the child: the
	// service must outlive the orchestrator, so the command carries no
	// context watcher that would kill it when the enclosing operation
	// finishes.
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = append(os.Environ(), environ...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil

	if logFile != "" {
		log, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("opening log file %s: %w", logFile, err)
		}
		defer log.Close()
		cmd.Stdout = log
		cmd.Stderr = log
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	pid := int32(cmd.Process.Pid)
	go cmd.Wait() //nolint:errcheck background reap; exit is observed via the process table
	return pid, nil
}

// Terminate implements Spawner.
func (OSSpawner) Terminate(pid int32) error {
	if err := unix.Kill(int(pid), unix.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to pid %d: %w", pid, err)
	}
	return nil
}

// Kill implements Spawner.
func (OSSpawner) Kill(pid int32) error {
	if err := unix.Kill(int(pid), unix.SIGKILL); err != nil {
		return fmt.Errorf("sending SIGKILL to pid %d: %w", pid, err)
	}
	return nil
}
