// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/devgrid-foundation/devgrid/lib/testutil"
)

const testTopology = `
grid: devnet
machine: laptop
local_master: true
root: ${GRID_WORKDIR}
hubs:
  standard:
    chain_id: 65535
    contract_address: "0xBF6B2B07e47326B7c8bfCb4A5460bef9f0Fd2002"
    asset_flavor: native
services:
  - name: chain
    kind: chain
    port: 8545
    hub: standard
    chain_id: 65535
  - name: mongo
    kind: mongo
    port: 27017
    directory: data/mongo
  - name: redis
    kind: redis
    port: 6379
  - name: gateway
    kind: gateway
    port: 9000
  - name: market
    kind: market
    port: 3000
    hub: standard
  - name: sms
    kind: sms
    port: 13300
    hub: standard
  - name: result-proxy
    kind: resultproxy
    port: 13200
    hub: standard
  - name: adapter
    kind: adapter
    port: 13010
    hub: standard
  - name: core
    kind: core
    port: 13000
    hub: standard
`

func loadResolved(t *testing.T) *Topology {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GRID_WORKDIR", dir)
	path := testutil.WriteFile(t, dir, "grid.yaml", testTopology)

	topo, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, err := topo.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := resolved.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return resolved
}

func TestResolveSubstitutesAndAbsolutizes(t *testing.T) {
	topo := loadResolved(t)

	mongo, err := topo.Service("mongo")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if !filepath.IsAbs(mongo.Directory) {
		t.Errorf("mongo directory not absolute: %q", mongo.Directory)
	}
	if got, want := mongo.Directory, filepath.Join(topo.Root, "data", "mongo"); got != want {
		t.Errorf("mongo directory = %q, want %q", got, want)
	}
	if mongo.Hostname != "127.0.0.1" {
		t.Errorf("hostname not defaulted: %q", mongo.Hostname)
	}
	if mongo.Machine != "laptop" {
		t.Errorf("machine not defaulted: %q", mongo.Machine)
	}
}

func TestResolveInjectsHubFields(t *testing.T) {
	topo := loadResolved(t)

	core, err := topo.Service("core")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if core.ChainID != 65535 {
		t.Errorf("chain id not injected: %d", core.ChainID)
	}
	if core.ContractAddress == "" || core.AssetFlavor != "native" {
		t.Errorf("hub fields not injected: %+v", core)
	}
}

func TestResolveHubKYCAppliesToAllServices(t *testing.T) {
	unsolved := &Topology{
		Grid:    "devnet",
		Machine: "laptop",
		Root:    t.TempDir(),
		Hubs: map[string]HubConfig{
			"enterprise": {ChainID: 134, ContractAddress: "0x02", AssetFlavor: "native", KYC: true},
		},
		Services: []*ServiceConfig{
			{Name: "market", Kind: KindMarket, Port: 3000, Hub: "enterprise"},
			{Name: "core", Kind: KindCore, Port: 13000, Hub: "enterprise"},
		},
	}
	resolved, err := unsolved.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The merge is one-way: false is the zero value, so every service
	// of a KYC hub comes out KYC and none can opt out.
	for _, name := range []string{"market", "core"} {
		svc, err := resolved.Service(name)
		if err != nil {
			t.Fatalf("Service: %v", err)
		}
		if !svc.KYC {
			t.Errorf("service %q in a KYC hub resolved with KYC off", name)
		}
	}
}

func TestResolveDerivesUpstreamURLs(t *testing.T) {
	topo := loadResolved(t)

	sms, _ := topo.Service("sms")
	if sms.MongoURL != "http://127.0.0.1:27017" {
		t.Errorf("sms mongo url = %q", sms.MongoURL)
	}
	if sms.ChainURL != "http://127.0.0.1:8545" {
		t.Errorf("sms chain url = %q", sms.ChainURL)
	}

	proxy, _ := topo.Service("result-proxy")
	if proxy.GatewayURL != "http://127.0.0.1:9000" {
		t.Errorf("result-proxy gateway url = %q", proxy.GatewayURL)
	}

	core, _ := topo.Service("core")
	if core.MarketURL != "http://127.0.0.1:3000" {
		t.Errorf("core market url = %q", core.MarketURL)
	}
}

func TestValidateRejectsEndpointCollision(t *testing.T) {
	topo := loadResolved(t)
	redis, _ := topo.Service("redis")
	mongo, _ := topo.Service("mongo")
	redis.Port = mongo.Port

	err := topo.Validate()
	if err == nil {
		t.Fatal("expected endpoint collision error")
	}
	if !strings.Contains(err.Error(), "share endpoint") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	topo := loadResolved(t)
	topo.Services = append(topo.Services, topo.Services[0].Clone())

	err := topo.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate service name") {
		t.Errorf("expected duplicate name error, got %v", err)
	}
}

func TestServiceUnknownName(t *testing.T) {
	topo := loadResolved(t)
	if _, err := topo.Service("no-such-service"); err == nil {
		t.Fatal("expected unknown service error")
	}
}

func TestEnvironRoundTrip(t *testing.T) {
	topo := loadResolved(t)

	for _, original := range topo.Services {
		environ := original.Environ(topo.Grid, topo.ConfigPath())

		grid, configPath, decoded, err := DecodeEnviron(environ)
		if err != nil {
			t.Fatalf("%s: DecodeEnviron: %v", original.Name, err)
		}
		if grid != topo.Grid {
			t.Errorf("%s: grid = %q, want %q", original.Name, grid, topo.Grid)
		}
		if configPath != topo.ConfigPath() {
			t.Errorf("%s: config path = %q", original.Name, configPath)
		}
		if !reflect.DeepEqual(decoded, original) {
			t.Errorf("%s: decoded config differs\n got: %+v\nwant: %+v", original.Name, decoded, original)
		}

		// The reconstructed config must rebuild byte-identical argv.
		if got, want := decoded.LaunchArgs(), original.LaunchArgs(); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: launch args drifted\n got: %v\nwant: %v", original.Name, got, want)
		}
	}
}

func TestDecodeEnvironRejectsForeignProcess(t *testing.T) {
	if _, _, _, err := DecodeEnviron([]string{"PATH=/usr/bin", "HOME=/root"}); err == nil {
		t.Fatal("expected error for environment without marker")
	}
}

func TestHasMarker(t *testing.T) {
	if HasMarker([]string{"PATH=/usr/bin"}) {
		t.Error("marker reported for plain environment")
	}
	if !HasMarker([]string{"DEVGRID_GRID=devnet"}) {
		t.Error("marker not detected")
	}
}

func TestMatchesCommand(t *testing.T) {
	cases := []struct {
		kind Kind
		argv []string
		want bool
	}{
		{KindMongo, []string{"/usr/bin/mongod", "--port", "27017"}, true},
		{KindMongo, []string{"/usr/bin/mongosh"}, false},
		{KindGateway, []string{"minio", "server", "/data"}, true},
		{KindGateway, []string{"minio", "mb", "bucket"}, false},
		{KindChain, []string{"ganache", "--port", "8545"}, true},
		{KindWorker, nil, false},
	}
	for _, tc := range cases {
		if got := MatchesCommand(tc.kind, tc.argv); got != tc.want {
			t.Errorf("MatchesCommand(%s, %v) = %v, want %v", tc.kind, tc.argv, got, tc.want)
		}
	}
}

func TestWorkerConfig(t *testing.T) {
	topo := loadResolved(t)

	worker, err := topo.WorkerConfig("laptop", "standard", 2)
	if err != nil {
		t.Fatalf("WorkerConfig: %v", err)
	}
	if worker.Name != "worker-standard-2" {
		t.Errorf("worker name = %q", worker.Name)
	}
	if worker.WalletIndex != workerBaseWalletIndex+2 {
		t.Errorf("wallet index = %d", worker.WalletIndex)
	}
	if worker.CoreURL != "http://127.0.0.1:13000" {
		t.Errorf("worker core url = %q", worker.CoreURL)
	}
	if worker.ChainID != 65535 {
		t.Errorf("worker chain id = %d", worker.ChainID)
	}

	if _, err := topo.WorkerConfig("laptop", "missing-hub", 0); err == nil {
		t.Fatal("expected unknown hub error")
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	if _, err := ParseKind("mainframe"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "bad.yaml", "grid: x\nmachine: y\nbogus_field: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}
