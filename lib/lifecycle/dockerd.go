// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"

	"github.com/docker/docker/client"
)

// dockerdService manages the container daemon the workers execute
// tasks against. The daemon listens on plain TCP in this development
// topology; readiness is an Engine API ping.
type dockerdService struct {
	statefulBase
}

func (s *dockerdService) IsReady(ctx context.Context) error {
	docker, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+s.config.Endpoint()),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return err
	}
	defer docker.Close()

	_, err = docker.Ping(ctx)
	return err
}
