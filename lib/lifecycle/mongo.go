// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/devgrid-foundation/devgrid/lib/discover"
)

// mongoService manages the document store.
type mongoService struct {
	statefulBase
}

func (s *mongoService) connect(ctx context.Context) (*mongo.Client, error) {
	uri := "mongodb://" + s.config.Endpoint() + "/?directConnection=true"
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

// IsReady is a database admin ping, not a TCP connect: mongod accepts
// connections while still replaying its journal.
func (s *mongoService) IsReady(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck probe connection

	return client.Ping(ctx, readpref.Primary())
}

// IsBusy rejects start when a foreign mongod (one this topology did
// not launch) holds the data directory's lock file with a live PID.
// Two mongod processes against one dbpath corrupt it.
func (s *mongoService) IsBusy(ctx context.Context) error {
	lockPath := filepath.Join(s.config.Directory, "mongod.lock")
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.checkSignature()
		}
		return fmt.Errorf("%w: reading %s: %v", ErrConflict, lockPath, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		// Clean shutdown leaves an empty lock file.
		return s.checkSignature()
	}
	lockPID, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: lock file %s holds %q, not a pid", ErrConflict, lockPath, raw)
	}

	if !discover.PIDAlive(ctx, int32(lockPID)) {
		// Stale lock from an unclean shutdown; mongod recovers it.
		return s.checkSignature()
	}

	// Live lock holder: fine if it is this very service (the start
	// path then adopts it), fatal if it is anything else.
	owner, err := s.runtime.Scanner.Lookup(ctx, s.config.Kind, s.config.Name)
	if err != nil {
		return err
	}
	if owner != nil && owner.PID == int32(lockPID) {
		return nil
	}
	return fmt.Errorf("%w: %s is locked by live foreign pid %d", ErrConflict, s.config.Directory, lockPID)
}

// Shutdown issues the admin shutdown command. The server closes the
// connection while executing it, so a network error in the reply is
// the expected success signature; only a refused connection (server
// already gone) or a command rejection is surfaced.
func (s *mongoService) Shutdown(ctx context.Context, pid int32) error {
	client, err := s.connect(ctx)
	if err != nil {
		// Unreachable server: fall back to the signal path so a
		// wedged mongod still gets a graceful SIGTERM.
		return s.statefulBase.Shutdown(ctx, pid)
	}
	defer client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck connection is going away

	result := client.Database("admin").RunCommand(ctx, bson.D{{Key: "shutdown", Value: 1}})
	if err := result.Err(); err != nil && !isConnectionTornDown(err) {
		return fmt.Errorf("mongod shutdown command: %w", err)
	}
	return nil
}

// isConnectionTornDown recognizes the reply-side errors produced when
// the server exits while answering the shutdown command.
func isConnectionTornDown(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "connection") ||
		strings.Contains(message, "EOF") ||
		strings.Contains(message, "socket")
}
