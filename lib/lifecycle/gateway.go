// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"

	"github.com/devgrid-foundation/devgrid/lib/netutil"
)

// gatewayService manages the object-storage gateway (minio).
type gatewayService struct {
	statefulBase
}

func (s *gatewayService) IsReady(ctx context.Context) error {
	client := netutil.ProbeClient(s.runtime.ProbeTimeout)
	return netutil.CheckHTTP(ctx, client, s.config.URL()+"/minio/health/live")
}
