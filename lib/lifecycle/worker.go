// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"

	"github.com/devgrid-foundation/devgrid/lib/netutil"
)

// workerService manages one elastic worker instance. Workers register
// with their hub's core on boot; the health endpoint answers only
// after registration succeeded, so readiness implies the worker is
// schedulable.
type workerService struct {
	base
}

func (s *workerService) IsReady(ctx context.Context) error {
	client := netutil.ProbeClient(s.runtime.ProbeTimeout)
	return netutil.CheckHTTP(ctx, client, s.config.URL()+"/health")
}
