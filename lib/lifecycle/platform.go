// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"

	"github.com/devgrid-foundation/devgrid/lib/netutil"
)

// platformService covers the API microservices (sms, result-proxy,
// chain-adapter), the core scheduler, and the market service. They
// share one readiness convention: a versioned HTTP query that must
// return a non-empty version string, proving the service finished its
// own upstream handshakes rather than merely binding its port.
type platformService struct {
	base
}

func (s *platformService) IsReady(ctx context.Context) error {
	client := netutil.ProbeClient(s.runtime.ProbeTimeout)
	version, err := netutil.FetchVersion(ctx, client, s.config.URL()+"/version")
	if err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("service at %s returned an empty version", s.config.Endpoint())
	}
	return nil
}
