// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared across devgrid tests:
// channel receive/close assertions with timeout safety valves and file
// fixture helpers. Tests use the standard library testing package; no
// assertion framework is used.
package testutil
