// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-redis/redis/v9"
)

// redisService manages the cache store.
type redisService struct {
	statefulBase
}

func (s *redisService) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: s.config.Endpoint(),
		// One attempt per probe; the lifecycle poll loop owns retry.
		MaxRetries:  -1,
		DialTimeout: s.runtime.ProbeTimeout,
	})
}

func (s *redisService) IsReady(ctx context.Context) error {
	client := s.client()
	defer client.Close()
	return client.Ping(ctx).Err()
}

func (s *redisService) IsBusy(ctx context.Context) error {
	return s.checkSignature()
}

// Shutdown sends SHUTDOWN NOSAVE: the dataset is disposable dev state
// and skipping the RDB dump keeps stop fast. Redis closes the
// connection instead of replying, so a torn connection is success.
func (s *redisService) Shutdown(ctx context.Context, pid int32) error {
	client := s.client()
	defer client.Close()

	err := client.ShutdownNoSave(ctx).Err()
	if err == nil || isClosedByShutdown(err) {
		return nil
	}
	return fmt.Errorf("redis shutdown command: %w", err)
}

func isClosedByShutdown(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}
