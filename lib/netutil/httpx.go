// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small networking helpers shared by the
// kind-specific readiness probes: bounded HTTP checks and TCP connect
// probes.
package netutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxProbeBody bounds how much of a probe response body is read. A
// readiness endpoint that streams unbounded output must not stall the
// poller.
const maxProbeBody = 4 << 10

// ProbeClient returns an http.Client tuned for readiness probes: short
// dial and overall timeouts, no redirects followed (a redirecting
// service is considered up).
func ProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// CheckHTTP issues GET url and returns nil for any 2xx or 3xx status.
// The body is drained (bounded) so the connection can be reused.
func CheckHTTP(ctx context.Context, client *http.Client, url string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	io.CopyN(io.Discard, response.Body, maxProbeBody) //nolint:errcheck drain for reuse

	if response.StatusCode >= 400 {
		return fmt.Errorf("GET %s: status %s", url, response.Status)
	}
	return nil
}

// FetchVersion issues GET url and returns the trimmed response body
// (bounded), for versioned readiness endpoints.
func FetchVersion(ctx context.Context, client *http.Client, url string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building version request: %w", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return "", fmt.Errorf("GET %s: status %s", url, response.Status)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxProbeBody))
	if err != nil {
		return "", fmt.Errorf("reading version body: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// CheckTCP verifies that something accepts connections on addr.
func CheckTCP(ctx context.Context, addr string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
