// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EnvPrefix is the private namespace for devgrid marker variables. No
// spawned service reads variables outside this prefix from us, and
// process discovery treats any process carrying EnvGrid as one of ours.
const EnvPrefix = "DEVGRID_"

const (
	// EnvGrid is the marker variable: which topology launched the
	// process. Its presence is what distinguishes a devgrid-managed
	// process from a foreign one with a similar command line.
	EnvGrid = EnvPrefix + "GRID"
	// EnvConfig is the topology file the process was launched from.
	EnvConfig = EnvPrefix + "CONFIG"

	envName            = EnvPrefix + "NAME"
	envKind            = EnvPrefix + "KIND"
	envHostname        = EnvPrefix + "HOSTNAME"
	envPort            = EnvPrefix + "PORT"
	envDirectory       = EnvPrefix + "DIRECTORY"
	envLogFile         = EnvPrefix + "LOG_FILE"
	envPIDFile         = EnvPrefix + "PID_FILE"
	envHub             = EnvPrefix + "HUB"
	envMachine         = EnvPrefix + "MACHINE"
	envCommand         = EnvPrefix + "COMMAND"
	envWalletIndex     = EnvPrefix + "WALLET_INDEX"
	envChainID         = EnvPrefix + "CHAIN_ID"
	envContractAddress = EnvPrefix + "CONTRACT_ADDRESS"
	envAssetFlavor     = EnvPrefix + "ASSET_FLAVOR"
	envKYC             = EnvPrefix + "KYC"
	envDatasetID       = EnvPrefix + "DATASET_ID"
	envChainURL        = EnvPrefix + "CHAIN_URL"
	envMongoURL        = EnvPrefix + "MONGO_URL"
	envRedisURL        = EnvPrefix + "REDIS_URL"
	envMarketURL       = EnvPrefix + "MARKET_URL"
	envCoreURL         = EnvPrefix + "CORE_URL"
	envGatewayURL      = EnvPrefix + "GATEWAY_URL"
)

// Environ encodes the resolved config as marker environment variables
// in KEY=VALUE form, sorted by key. Empty optional fields are omitted
// so that DecodeEnviron reconstructs an identical struct (zero values
// stay zero). This is the wire format between a launch and a later
// rediscovery; see DecodeEnviron for the inverse.
func (c *ServiceConfig) Environ(grid, configPath string) []string {
	pairs := map[string]string{
		EnvGrid:     grid,
		envName:     c.Name,
		envKind:     string(c.Kind),
		envHostname: c.Hostname,
		envPort:     strconv.Itoa(c.Port),
		envMachine:  c.Machine,
	}

	setIfNotEmpty := func(key, value string) {
		if value != "" {
			pairs[key] = value
		}
	}
	setIfNotEmpty(EnvConfig, configPath)
	setIfNotEmpty(envDirectory, c.Directory)
	setIfNotEmpty(envLogFile, c.LogFile)
	setIfNotEmpty(envPIDFile, c.PIDFile)
	setIfNotEmpty(envHub, c.Hub)
	setIfNotEmpty(envCommand, c.Command)
	setIfNotEmpty(envContractAddress, c.ContractAddress)
	setIfNotEmpty(envAssetFlavor, c.AssetFlavor)
	setIfNotEmpty(envDatasetID, c.DatasetID)
	setIfNotEmpty(envChainURL, c.ChainURL)
	setIfNotEmpty(envMongoURL, c.MongoURL)
	setIfNotEmpty(envRedisURL, c.RedisURL)
	setIfNotEmpty(envMarketURL, c.MarketURL)
	setIfNotEmpty(envCoreURL, c.CoreURL)
	setIfNotEmpty(envGatewayURL, c.GatewayURL)
	if c.WalletIndex != 0 {
		pairs[envWalletIndex] = strconv.Itoa(c.WalletIndex)
	}
	if c.ChainID != 0 {
		pairs[envChainID] = strconv.FormatInt(c.ChainID, 10)
	}
	if c.KYC {
		pairs[envKYC] = "true"
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, key := range keys {
		environ = append(environ, key+"="+pairs[key])
	}
	return environ
}

// HasMarker reports whether an environment block carries the devgrid
// marker variable at all (regardless of which grid).
func HasMarker(environ []string) bool {
	for _, entry := range environ {
		if strings.HasPrefix(entry, EnvGrid+"=") {
			return true
		}
	}
	return false
}

// DecodeEnviron reconstructs the resolved ServiceConfig, the grid
// marker, and the topology file path from a process environment block.
// It is the exact inverse of Environ: feeding the result back through
// Environ (with the returned grid and config path) reproduces the same
// variables, and through LaunchArgs the same byte-identical argv.
//
// Variables outside the DEVGRID_ namespace are ignored. Missing marker,
// name, or kind is an error; callers treat that as a foreign process.
func DecodeEnviron(environ []string) (grid, configPath string, config *ServiceConfig, err error) {
	values := make(map[string]string)
	for _, entry := range environ {
		if !strings.HasPrefix(entry, EnvPrefix) {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		values[key] = value
	}

	grid = values[EnvGrid]
	if grid == "" {
		return "", "", nil, fmt.Errorf("environment carries no %s marker", EnvGrid)
	}
	if values[envName] == "" {
		return "", "", nil, fmt.Errorf("environment carries no %s", envName)
	}

	kind, err := ParseKind(values[envKind])
	if err != nil {
		return "", "", nil, fmt.Errorf("decoding %s: %w", envKind, err)
	}

	config = &ServiceConfig{
		Name:            values[envName],
		Kind:            kind,
		Hostname:        values[envHostname],
		Directory:       values[envDirectory],
		LogFile:         values[envLogFile],
		PIDFile:         values[envPIDFile],
		Hub:             values[envHub],
		Machine:         values[envMachine],
		Command:         values[envCommand],
		ContractAddress: values[envContractAddress],
		AssetFlavor:     values[envAssetFlavor],
		DatasetID:       values[envDatasetID],
		ChainURL:        values[envChainURL],
		MongoURL:        values[envMongoURL],
		RedisURL:        values[envRedisURL],
		MarketURL:       values[envMarketURL],
		CoreURL:         values[envCoreURL],
		GatewayURL:      values[envGatewayURL],
	}

	if raw := values[envPort]; raw != "" {
		config.Port, err = strconv.Atoi(raw)
		if err != nil {
			return "", "", nil, fmt.Errorf("decoding %s=%q: %w", envPort, raw, err)
		}
	}
	if raw := values[envWalletIndex]; raw != "" {
		config.WalletIndex, err = strconv.Atoi(raw)
		if err != nil {
			return "", "", nil, fmt.Errorf("decoding %s=%q: %w", envWalletIndex, raw, err)
		}
	}
	if raw := values[envChainID]; raw != "" {
		config.ChainID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", "", nil, fmt.Errorf("decoding %s=%q: %w", envChainID, raw, err)
		}
	}
	if raw := values[envKYC]; raw != "" {
		config.KYC, err = strconv.ParseBool(raw)
		if err != nil {
			return "", "", nil, fmt.Errorf("decoding %s=%q: %w", envKYC, raw, err)
		}
	}

	return grid, values[EnvConfig], config, nil
}
