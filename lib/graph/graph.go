// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph computes dependency sets and phased execution plans
// from a resolved topology. Resolution is a pure function of static
// configuration; no I/O.
//
// Phase membership is a total function of the service kind. The five
// fixed phases encode a total order, so dependency cycles cannot be
// expressed: a service may only require kinds from strictly earlier
// phases, and any configuration that implies otherwise is rejected as
// a configuration error.
package graph

import (
	"fmt"

	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// Phase is one of the five ordered start-up buckets. Start executes
// phases in ascending order; stop in descending order.
type Phase int

const (
	// PhaseInfra holds the shared infrastructure: chain node, object
	// store gateway, container daemon, document store, cache store.
	PhaseInfra Phase = iota
	// PhaseMarket holds the market-matching service.
	PhaseMarket
	// PhaseAPI holds the three API microservices.
	PhaseAPI
	// PhaseCore holds the core scheduler.
	PhaseCore
	// PhaseWorker holds worker instances, always last.
	PhaseWorker

	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseInfra:
		return "infra"
	case PhaseMarket:
		return "market"
	case PhaseAPI:
		return "api"
	case PhaseCore:
		return "core"
	case PhaseWorker:
		return "worker"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PhaseOf returns the phase a kind belongs to. Every kind has explicit
// membership; there is no partial or truncated list.
func PhaseOf(kind topology.Kind) Phase {
	switch kind {
	case topology.KindChain, topology.KindGateway, topology.KindDockerd,
		topology.KindMongo, topology.KindRedis:
		return PhaseInfra
	case topology.KindMarket:
		return PhaseMarket
	case topology.KindSMS, topology.KindResultProxy, topology.KindAdapter:
		return PhaseAPI
	case topology.KindCore:
		return PhaseCore
	case topology.KindWorker:
		return PhaseWorker
	}
	// Unknown kinds are caught by topology validation before any plan
	// is built; panic here would hide the configuration error.
	return PhaseWorker
}

// requiredKinds maps each kind to the kinds it depends on. All entries
// reference strictly earlier phases by construction, which is what
// keeps the graph acyclic.
func requiredKinds(kind topology.Kind) []topology.Kind {
	switch kind {
	case topology.KindMarket:
		return []topology.Kind{topology.KindChain, topology.KindMongo, topology.KindRedis}
	case topology.KindSMS, topology.KindAdapter:
		return []topology.Kind{topology.KindChain, topology.KindMongo, topology.KindRedis}
	case topology.KindResultProxy:
		return []topology.Kind{topology.KindChain, topology.KindMongo, topology.KindRedis, topology.KindGateway}
	case topology.KindCore:
		return []topology.Kind{
			topology.KindChain, topology.KindMongo, topology.KindRedis,
			topology.KindMarket,
			topology.KindSMS, topology.KindResultProxy, topology.KindAdapter,
		}
	case topology.KindWorker:
		return []topology.Kind{
			topology.KindChain, topology.KindGateway, topology.KindDockerd,
			topology.KindSMS, topology.KindResultProxy,
			topology.KindCore,
		}
	}
	return nil
}

// Plan is an ordered set of phase groups. Within a group there is no
// ordering guarantee; groups execute strictly in slice order.
type Plan struct {
	Phases [][]*topology.ServiceConfig
}

// Services flattens the plan in phase order.
func (p *Plan) Services() []*topology.ServiceConfig {
	var flat []*topology.ServiceConfig
	for _, phase := range p.Phases {
		flat = append(flat, phase...)
	}
	return flat
}

// Len returns the total number of services in the plan.
func (p *Plan) Len() int {
	total := 0
	for _, phase := range p.Phases {
		total += len(phase)
	}
	return total
}

// WithoutPhaseOf returns a copy of the plan with the phase containing
// the given kind removed. Used by only-dependencies start: prepare the
// environment for a service that will be launched out-of-band.
func (p *Plan) WithoutPhaseOf(kind topology.Kind) *Plan {
	trimmed := &Plan{}
	for _, phase := range p.Phases {
		if len(phase) > 0 && PhaseOf(phase[0].Kind) == PhaseOf(kind) {
			continue
		}
		trimmed.Phases = append(trimmed.Phases, phase)
	}
	return trimmed
}

// All plans the whole topology: every authored service grouped into
// phases, empty phases omitted.
func All(topo *topology.Topology) *Plan {
	return Group(topo.Services)
}

// For plans the named service and its transitive dependencies. The
// named service occupies the final phase of the returned plan.
func For(topo *topology.Topology, name string) (*Plan, error) {
	target, err := topo.Service(name)
	if err != nil {
		return nil, err
	}
	deps, err := Dependencies(topo, name)
	if err != nil {
		return nil, err
	}
	return Group(append(deps, target)), nil
}

// ForWorker plans the start of the indexed worker of a hub: the
// synthesized worker configuration plus its transitive dependencies.
// It also returns the worker config itself so the caller can launch it.
func ForWorker(topo *topology.Topology, machine, hubAlias string, index int) (*Plan, *topology.ServiceConfig, error) {
	worker, err := topo.WorkerConfig(machine, hubAlias, index)
	if err != nil {
		return nil, nil, err
	}
	deps, err := dependenciesOf(topo, worker)
	if err != nil {
		return nil, nil, err
	}
	return Group(append(deps, worker)), worker, nil
}

// Dependencies returns every service the named one transitively needs,
// in deterministic (phase, file) order, excluding the service itself.
// Errors are configuration errors: unknown name, or a requirement that
// would reach into the same or a later phase.
func Dependencies(topo *topology.Topology, name string) ([]*topology.ServiceConfig, error) {
	target, err := topo.Service(name)
	if err != nil {
		return nil, err
	}
	return dependenciesOf(topo, target)
}

func dependenciesOf(topo *topology.Topology, target *topology.ServiceConfig) ([]*topology.ServiceConfig, error) {
	needed := make(map[string]*topology.ServiceConfig)

	var visit func(config *topology.ServiceConfig) error
	visit = func(config *topology.ServiceConfig) error {
		for _, kind := range requiredKinds(config.Kind) {
			if PhaseOf(kind) >= PhaseOf(config.Kind) {
				return fmt.Errorf(
					"service %q (kind %q, phase %s) requires kind %q from phase %s: later-phase dependencies are a configuration error",
					config.Name, config.Kind, PhaseOf(config.Kind), kind, PhaseOf(kind))
			}
			for _, dep := range servicesForHub(topo, kind, config.Hub) {
				if _, seen := needed[dep.Name]; seen {
					continue
				}
				needed[dep.Name] = dep
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(target); err != nil {
		return nil, err
	}

	// Deterministic order: walk the topology file order, filtered.
	var ordered []*topology.ServiceConfig
	for _, service := range topo.Services {
		if _, ok := needed[service.Name]; ok {
			ordered = append(ordered, service)
		}
	}
	return ordered, nil
}

// servicesForHub selects services of a kind that serve the given hub: a
// service with a matching hub wins; hubless services (shared infra)
// apply to every hub.
func servicesForHub(topo *topology.Topology, kind topology.Kind, hub string) []*topology.ServiceConfig {
	var matched, shared []*topology.ServiceConfig
	for _, service := range topo.ServicesOfKind(kind) {
		switch service.Hub {
		case hub:
			matched = append(matched, service)
		case "":
			shared = append(shared, service)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return shared
}

// Group partitions services into a plan with phases in ascending order,
// preserving input order within each phase and dropping empty phases.
func Group(services []*topology.ServiceConfig) *Plan {
	buckets := make([][]*topology.ServiceConfig, numPhases)
	for _, service := range services {
		phase := PhaseOf(service.Kind)
		buckets[phase] = append(buckets[phase], service)
	}

	plan := &Plan{}
	for _, bucket := range buckets {
		if len(bucket) > 0 {
			plan.Phases = append(plan.Phases, bucket)
		}
	}
	return plan
}
