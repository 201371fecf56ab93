// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import "fmt"

// Kind tags a service with its concrete behavior strategy: which launch
// command it gets, which process-table signature identifies it, which
// readiness probe applies, and which phase group it starts in.
type Kind string

const (
	// KindChain is the development chain node (ganache).
	KindChain Kind = "chain"
	// KindGateway is the object-storage gateway (minio).
	KindGateway Kind = "gateway"
	// KindDockerd is the container daemon.
	KindDockerd Kind = "dockerd"
	// KindMongo is the document store (mongod).
	KindMongo Kind = "mongo"
	// KindRedis is the cache store (redis-server).
	KindRedis Kind = "redis"
	// KindSMS is the secret-management API microservice.
	KindSMS Kind = "sms"
	// KindResultProxy is the result-proxy API microservice.
	KindResultProxy Kind = "resultproxy"
	// KindAdapter is the blockchain-adapter API microservice.
	KindAdapter Kind = "adapter"
	// KindCore is the core scheduler service.
	KindCore Kind = "core"
	// KindMarket is the market-matching service.
	KindMarket Kind = "market"
	// KindWorker is an elastic worker instance.
	KindWorker Kind = "worker"
)

// Kinds lists every service kind in phase order (infra first, worker
// last). The order is stable and used for deterministic iteration.
var Kinds = []Kind{
	KindChain, KindGateway, KindDockerd, KindMongo, KindRedis,
	KindMarket,
	KindSMS, KindResultProxy, KindAdapter,
	KindCore,
	KindWorker,
}

// ParseKind converts a string to a Kind, rejecting unknown tags.
func ParseKind(s string) (Kind, error) {
	for _, kind := range Kinds {
		if string(kind) == s {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown service kind %q", s)
}

// Stateful reports whether the kind owns an on-disk data directory that
// install creates, reset wipes, and the signature registry guards.
func (k Kind) Stateful() bool {
	switch k {
	case KindChain, KindMongo, KindRedis, KindGateway, KindDockerd:
		return true
	}
	return false
}

// Signed reports whether the kind's data directory carries a DB
// compatibility signature. Only directories that independent logical
// consumers may share need one.
func (k Kind) Signed() bool {
	switch k {
	case KindChain, KindMongo, KindRedis:
		return true
	}
	return false
}

// DefaultCommand returns the launch binary for the kind. A
// ServiceConfig may override it with an explicit Command path; the
// base name must stay the same for process discovery to match.
func (k Kind) DefaultCommand() string {
	switch k {
	case KindChain:
		return "ganache"
	case KindGateway:
		return "minio"
	case KindDockerd:
		return "dockerd"
	case KindMongo:
		return "mongod"
	case KindRedis:
		return "redis-server"
	case KindSMS:
		return "grid-sms"
	case KindResultProxy:
		return "grid-result-proxy"
	case KindAdapter:
		return "grid-chain-adapter"
	case KindCore:
		return "grid-core"
	case KindMarket:
		return "grid-market"
	case KindWorker:
		return "grid-worker"
	}
	return string(k)
}

func (k Kind) String() string { return string(k) }
