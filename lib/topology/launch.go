// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"path/filepath"
	"strconv"
)

// LaunchArgs builds the full argv for the service. The arguments are a
// pure function of the resolved configuration: a configuration
// reconstructed from a live process's environment must reproduce
// byte-identical arguments, which is what lets discovery verify that a
// matched process really belongs to this configuration.
func (c *ServiceConfig) LaunchArgs() []string {
	command := c.CommandName()
	port := strconv.Itoa(c.Port)

	switch c.Kind {
	case KindChain:
		return []string{
			command,
			"--host", c.Hostname,
			"--port", port,
			"--chain.chainId", strconv.FormatInt(c.ChainID, 10),
			"--database.dbPath", c.Directory,
			"--wallet.deterministic", "true",
		}
	case KindMongo:
		return []string{
			command,
			"--bind_ip", c.Hostname,
			"--port", port,
			"--dbpath", c.Directory,
		}
	case KindRedis:
		return []string{
			command,
			"--bind", c.Hostname,
			"--port", port,
			"--dir", c.Directory,
			"--daemonize", "no",
		}
	case KindDockerd:
		return []string{
			command,
			"--host", "tcp://" + c.Endpoint(),
			"--data-root", c.Directory,
		}
	case KindGateway:
		return []string{
			command,
			"server", c.Directory,
			"--address", c.Endpoint(),
		}
	case KindWorker:
		args := []string{
			command,
			"--host", c.Hostname,
			"--port", port,
			"--hub", c.Hub,
			"--wallet-index", strconv.Itoa(c.WalletIndex),
		}
		args = appendFlag(args, "--core-url", c.CoreURL)
		args = appendFlag(args, "--chain-url", c.ChainURL)
		args = appendFlag(args, "--gateway-url", c.GatewayURL)
		args = appendFlag(args, "--directory", c.Directory)
		return args
	default:
		// The platform services (sms, result-proxy, chain-adapter,
		// core, market) share one flag convention.
		args := []string{
			command,
			"--host", c.Hostname,
			"--port", port,
			"--hub", c.Hub,
		}
		args = appendFlag(args, "--chain-url", c.ChainURL)
		args = appendFlag(args, "--mongo-url", c.MongoURL)
		args = appendFlag(args, "--redis-url", c.RedisURL)
		args = appendFlag(args, "--gateway-url", c.GatewayURL)
		args = appendFlag(args, "--market-url", c.MarketURL)
		return args
	}
}

func appendFlag(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}

// MatchesCommand reports whether a process command line looks like an
// instance of the kind. The base name of argv[0] must equal the kind's
// default binary name; the gateway additionally requires the "server"
// subcommand so a minio client invocation does not match. This is the
// cheap first-pass filter over the process table; the marker
// environment variables are the authoritative signal.
func MatchesCommand(kind Kind, argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	if filepath.Base(argv[0]) != kind.DefaultCommand() {
		return false
	}
	if kind == KindGateway {
		return len(argv) > 1 && argv[1] == "server"
	}
	return true
}
