// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that the bounded polling loops in the
// service lifecycle (readiness probes, termination waits) can be tested
// deterministically. Production code uses Real(); tests use a Fake and
// drive it with Advance.
package clock
