// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology defines the declarative service model: service
// kinds, per-service configuration, the topology file format, and the
// two codecs every other component builds on: the launch-argument
// builder and the marker environment codec.
//
// A topology exists in two forms. The unsolved form is what the author
// wrote: it may contain ${VAR} placeholders and relative paths. Resolve
// produces the resolved form: placeholders substituted, paths absolute,
// hub fields and dependency URLs filled in. Only resolved topologies
// are accepted by the lifecycle and runner packages.
//
// The marker environment codec is the wire format between a launch and
// a later rediscovery: every spawned process carries its full resolved
// configuration in DEVGRID_* environment variables, and process
// discovery reads them back to reconstruct the configuration from a
// bare PID. Environ and DecodeEnviron are exact inverses.
package topology
