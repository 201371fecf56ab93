// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

// ServiceConfig is the typed configuration for one service instance.
// Fields that only apply to some kinds are zero for the others; Validate
// enforces per-kind requirements after resolution.
type ServiceConfig struct {
	// Name is the unique, stable identifier within the topology.
	Name string `yaml:"name"`

	// Kind selects the behavior strategy and process-table signature.
	Kind Kind `yaml:"kind"`

	Hostname  string `yaml:"hostname,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Directory string `yaml:"directory,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
	PIDFile   string `yaml:"pid_file,omitempty"`

	// Hub names the chain id + deployment flavor combination this
	// service is configured against.
	Hub string `yaml:"hub,omitempty"`

	// Machine identifies the host that must run this service. Empty
	// means the topology's local machine.
	Machine string `yaml:"machine,omitempty"`

	// Command overrides the kind's default launch binary. The base
	// name must match the default for discovery to recognize it.
	Command string `yaml:"command,omitempty"`

	// WalletIndex is the worker's per-index identity.
	WalletIndex int `yaml:"wallet_index,omitempty"`

	// Compatibility fields, normally injected from the hub.
	ChainID         int64  `yaml:"chain_id,omitempty"`
	ContractAddress string `yaml:"contract_address,omitempty"`
	AssetFlavor     string `yaml:"asset_flavor,omitempty"`
	KYC             bool   `yaml:"kyc,omitempty"`
	DatasetID       string `yaml:"dataset_id,omitempty"`

	// Upstream URLs, normally derived from sibling services of the
	// same hub during resolution.
	ChainURL   string `yaml:"chain_url,omitempty"`
	MongoURL   string `yaml:"mongo_url,omitempty"`
	RedisURL   string `yaml:"redis_url,omitempty"`
	MarketURL  string `yaml:"market_url,omitempty"`
	CoreURL    string `yaml:"core_url,omitempty"`
	GatewayURL string `yaml:"gateway_url,omitempty"`
}

// Endpoint returns host:port.
func (c *ServiceConfig) Endpoint() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// URL returns the http base URL for the service.
func (c *ServiceConfig) URL() string {
	return "http://" + c.Endpoint()
}

// CommandName returns the launch binary: the explicit Command override
// or the kind default.
func (c *ServiceConfig) CommandName() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Kind.DefaultCommand()
}

// Clone returns a deep copy (ServiceConfig holds no reference fields,
// so a value copy suffices).
func (c *ServiceConfig) Clone() *ServiceConfig {
	copied := *c
	return &copied
}

// HubConfig identifies a chain id + deployment flavor combination.
type HubConfig struct {
	ChainID         int64  `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	AssetFlavor     string `yaml:"asset_flavor"`
	KYC             bool   `yaml:"kyc,omitempty"`
	DatasetID       string `yaml:"dataset_id,omitempty"`
}

// MachineConfig describes a remote machine reachable over SSH.
type MachineConfig struct {
	Host           string `yaml:"host"`
	User           string `yaml:"user"`
	Port           int    `yaml:"port,omitempty"`
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	KnownHostsFile string `yaml:"known_hosts_file,omitempty"`

	// Binary is the devgrid binary path on the remote machine.
	// Defaults to "devgrid" (resolved via the remote PATH).
	Binary string `yaml:"binary,omitempty"`
}

// Topology is the full declarative configuration: the set of services,
// the hubs they are configured against, and the machines they run on.
type Topology struct {
	// Grid is the topology identity, embedded as a marker environment
	// variable in every spawned process so discovery can tell this
	// topology's processes apart from foreign ones.
	Grid string `yaml:"grid"`

	// Machine is the local machine identity.
	Machine string `yaml:"machine"`

	// LocalMaster marks this machine as allowed to drive remote
	// machines. A non-master refuses remote operations.
	LocalMaster bool `yaml:"local_master,omitempty"`

	// Root anchors relative paths during resolution.
	Root string `yaml:"root,omitempty"`

	Machines map[string]MachineConfig `yaml:"machines,omitempty"`
	Hubs     map[string]HubConfig     `yaml:"hubs"`
	Services []*ServiceConfig         `yaml:"services"`

	resolved   bool
	configPath string
}

// Load reads an unsolved topology from a YAML file. Unknown fields are
// rejected so typos surface as load errors instead of silently ignored
// configuration.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	var topo Topology
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&topo); err != nil {
		return nil, fmt.Errorf("parsing topology %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving topology path: %w", err)
	}
	topo.configPath = absPath
	return &topo, nil
}

// ConfigPath returns the absolute path of the file this topology was
// loaded from, or "" if it was constructed in memory.
func (t *Topology) ConfigPath() string { return t.configPath }

// Resolved reports whether Resolve has run.
func (t *Topology) Resolved() bool { return t.resolved }

// Resolve substitutes ${VAR} placeholders, absolutizes paths, injects
// hub compatibility fields, and derives dependency URLs from sibling
// services. It returns a new Topology; the receiver is unchanged.
//
// Placeholders resolve against the topology's own identity variables
// (GRID, MACHINE, GRID_ROOT) first and the process environment second,
// so a topology file stays portable across checkouts.
func (t *Topology) Resolve() (*Topology, error) {
	resolved := &Topology{
		Grid:        t.Grid,
		Machine:     t.Machine,
		LocalMaster: t.LocalMaster,
		Root:        t.Root,
		Machines:    t.Machines,
		Hubs:        t.Hubs,
		configPath:  t.configPath,
	}

	vars := map[string]string{
		"GRID":      t.Grid,
		"MACHINE":   t.Machine,
		"GRID_ROOT": t.Root,
	}
	substitute := func(s string) (string, error) {
		return envsubst.Eval(s, func(name string) string {
			if value, ok := vars[name]; ok {
				return value
			}
			return os.Getenv(name)
		})
	}

	root, err := substitute(t.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("defaulting root: %w", err)
		}
	}
	if !filepath.IsAbs(root) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("absolutizing root %q: %w", root, err)
		}
		root = absRoot
	}
	resolved.Root = root
	vars["GRID_ROOT"] = root

	for _, service := range t.Services {
		config := service.Clone()
		for _, field := range []*string{
			&config.Name, &config.Hostname, &config.Directory,
			&config.LogFile, &config.PIDFile, &config.Hub,
			&config.Machine, &config.Command, &config.ContractAddress,
			&config.DatasetID, &config.ChainURL, &config.MongoURL,
			&config.RedisURL, &config.MarketURL, &config.CoreURL,
			&config.GatewayURL,
		} {
			substituted, err := substitute(*field)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", service.Name, err)
			}
			*field = substituted
		}

		if config.Hostname == "" {
			config.Hostname = "127.0.0.1"
		}
		if config.Machine == "" {
			config.Machine = t.Machine
		}
		for _, path := range []*string{&config.Directory, &config.LogFile, &config.PIDFile} {
			if *path != "" && !filepath.IsAbs(*path) {
				*path = filepath.Join(root, *path)
			}
		}
		if config.Kind.Stateful() && config.Directory == "" {
			config.Directory = filepath.Join(root, "data", config.Name)
		}

		if config.Hub != "" {
			hub, ok := t.Hubs[config.Hub]
			if !ok {
				return nil, fmt.Errorf("service %q: unknown hub %q", config.Name, config.Hub)
			}
			if config.ChainID == 0 {
				config.ChainID = hub.ChainID
			}
			if config.ContractAddress == "" {
				config.ContractAddress = hub.ContractAddress
			}
			if config.AssetFlavor == "" {
				config.AssetFlavor = hub.AssetFlavor
			}
			// KYC merges upward only: a KYC hub makes every one of
			// its services KYC, and a service cannot opt back out
			// (false is indistinguishable from unset).
			if !config.KYC {
				config.KYC = hub.KYC
			}
			if config.DatasetID == "" {
				config.DatasetID = hub.DatasetID
			}
		}

		resolved.Services = append(resolved.Services, config)
	}

	resolved.deriveURLs()
	resolved.resolved = true
	return resolved, nil
}

// deriveURLs fills each service's upstream URLs from sibling services.
// A service prefers a sibling of the same hub; a hubless sibling of the
// right kind is the fallback. Explicit URLs in the topology file win.
func (t *Topology) deriveURLs() {
	urlOf := func(kind Kind, hub string) string {
		var fallback string
		for _, service := range t.Services {
			if service.Kind != kind {
				continue
			}
			if service.Hub == hub {
				return service.URL()
			}
			if service.Hub == "" && fallback == "" {
				fallback = service.URL()
			}
		}
		return fallback
	}

	for _, service := range t.Services {
		switch service.Kind {
		case KindSMS, KindAdapter, KindMarket:
			fillURL(&service.ChainURL, urlOf(KindChain, service.Hub))
			fillURL(&service.MongoURL, urlOf(KindMongo, service.Hub))
			fillURL(&service.RedisURL, urlOf(KindRedis, service.Hub))
		case KindResultProxy:
			fillURL(&service.ChainURL, urlOf(KindChain, service.Hub))
			fillURL(&service.MongoURL, urlOf(KindMongo, service.Hub))
			fillURL(&service.RedisURL, urlOf(KindRedis, service.Hub))
			fillURL(&service.GatewayURL, urlOf(KindGateway, service.Hub))
		case KindCore:
			fillURL(&service.ChainURL, urlOf(KindChain, service.Hub))
			fillURL(&service.MongoURL, urlOf(KindMongo, service.Hub))
			fillURL(&service.RedisURL, urlOf(KindRedis, service.Hub))
			fillURL(&service.MarketURL, urlOf(KindMarket, service.Hub))
		case KindWorker:
			fillURL(&service.CoreURL, urlOf(KindCore, service.Hub))
			fillURL(&service.ChainURL, urlOf(KindChain, service.Hub))
			fillURL(&service.GatewayURL, urlOf(KindGateway, service.Hub))
		}
	}
}

func fillURL(field *string, derived string) {
	if *field == "" {
		*field = derived
	}
}

// Validate checks a resolved topology. All problems are reported at
// once via errors.Join so the author fixes the file in one pass.
func (t *Topology) Validate() error {
	var errs []error

	if !t.resolved {
		return fmt.Errorf("topology must be resolved before validation")
	}
	if t.Grid == "" {
		errs = append(errs, fmt.Errorf("grid is required"))
	}
	if t.Machine == "" {
		errs = append(errs, fmt.Errorf("machine is required"))
	}

	names := make(map[string]bool, len(t.Services))
	endpoints := make(map[string]string)
	for _, service := range t.Services {
		if service.Name == "" {
			errs = append(errs, fmt.Errorf("service with kind %q has no name", service.Kind))
			continue
		}
		if names[service.Name] {
			errs = append(errs, fmt.Errorf("duplicate service name %q", service.Name))
		}
		names[service.Name] = true

		if _, err := ParseKind(string(service.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("service %q: %w", service.Name, err))
			continue
		}
		if service.Port == 0 {
			errs = append(errs, fmt.Errorf("service %q: port is required", service.Name))
		}
		if service.Hostname == "" {
			errs = append(errs, fmt.Errorf("service %q: hostname is required", service.Name))
		}

		// Every pair that must run concurrently on the same machine
		// needs a distinct host:port.
		key := service.Machine + "/" + service.Endpoint()
		if other, taken := endpoints[key]; taken {
			errs = append(errs, fmt.Errorf("services %q and %q share endpoint %s on machine %q",
				other, service.Name, service.Endpoint(), service.Machine))
		}
		endpoints[key] = service.Name

		if service.Kind.Stateful() && service.Directory == "" {
			errs = append(errs, fmt.Errorf("service %q: directory is required for kind %q", service.Name, service.Kind))
		}
		switch service.Kind {
		case KindChain:
			if service.ChainID == 0 {
				errs = append(errs, fmt.Errorf("service %q: chain_id is required for the chain node", service.Name))
			}
		case KindSMS, KindResultProxy, KindAdapter, KindCore, KindMarket, KindWorker:
			if service.Hub == "" {
				errs = append(errs, fmt.Errorf("service %q: hub is required for kind %q", service.Name, service.Kind))
			} else if _, ok := t.Hubs[service.Hub]; !ok {
				errs = append(errs, fmt.Errorf("service %q: unknown hub %q", service.Name, service.Hub))
			}
		}

		if service.Machine != t.Machine {
			if _, ok := t.Machines[service.Machine]; !ok {
				errs = append(errs, fmt.Errorf("service %q: unknown machine %q", service.Name, service.Machine))
			}
		}
	}

	return errors.Join(errs...)
}

// Service returns the named service or a configuration error.
func (t *Topology) Service(name string) (*ServiceConfig, error) {
	for _, service := range t.Services {
		if service.Name == name {
			return service, nil
		}
	}
	return nil, fmt.Errorf("unknown service %q", name)
}

// ServicesOfKind returns all services of the given kind, in file order.
func (t *Topology) ServicesOfKind(kind Kind) []*ServiceConfig {
	var matched []*ServiceConfig
	for _, service := range t.Services {
		if service.Kind == kind {
			matched = append(matched, service)
		}
	}
	return matched
}

// Hub returns the named hub or a configuration error.
func (t *Topology) Hub(alias string) (HubConfig, error) {
	hub, ok := t.Hubs[alias]
	if !ok {
		return HubConfig{}, fmt.Errorf("unknown hub %q", alias)
	}
	return hub, nil
}

// WorkerConfig synthesizes the resolved configuration for the indexed
// worker of a hub on a machine. Worker instances are not authored
// individually; the index determines the name, wallet identity, and
// port offset.
func (t *Topology) WorkerConfig(machine, hubAlias string, index int) (*ServiceConfig, error) {
	if !t.resolved {
		return nil, fmt.Errorf("topology must be resolved before deriving workers")
	}
	if index < 0 {
		return nil, fmt.Errorf("worker index must be non-negative, got %d", index)
	}
	if _, err := t.Hub(hubAlias); err != nil {
		return nil, err
	}

	base := &ServiceConfig{
		Name:        fmt.Sprintf("worker-%s-%d", hubAlias, index),
		Kind:        KindWorker,
		Hostname:    "127.0.0.1",
		Port:        workerBasePort + index,
		Directory:   filepath.Join(t.Root, "data", fmt.Sprintf("worker-%s-%d", hubAlias, index)),
		Hub:         hubAlias,
		Machine:     machine,
		WalletIndex: workerBaseWalletIndex + index,
	}

	hub := t.Hubs[hubAlias]
	base.ChainID = hub.ChainID
	base.ContractAddress = hub.ContractAddress
	base.AssetFlavor = hub.AssetFlavor
	base.KYC = hub.KYC
	base.DatasetID = hub.DatasetID

	// Reuse URL derivation against the existing services.
	scratch := &Topology{Services: append([]*ServiceConfig{}, t.Services...)}
	scratch.Services = append(scratch.Services, base)
	scratch.deriveURLs()
	return base, nil
}

const (
	// workerBasePort anchors per-index worker ports.
	workerBasePort = 18100
	// workerBaseWalletIndex keeps worker wallets clear of the wallets
	// assigned to the platform services.
	workerBaseWalletIndex = 10
)
