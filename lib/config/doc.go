// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Dirigent
// daemon and its tools.
//
// Configuration comes from a single file named by either the
// DIRIGENT_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no ~/.config discovery and no file
// search; a missing file is not an error and yields the defaults, so
// the daemon starts usefully with no configuration at all.
//
// After the file is read, two adjustments are applied in order:
// DIRIGENT_* environment overrides for the handful of operational
// knobs (store kind and path, wire socket, log level and format),
// then ${VAR} and ${VAR:-default} expansion on path fields.
//
// Duration-valued settings are strings in time.ParseDuration syntax
// ("30s", "5m"); [Config.Validate] vets them and [Duration] parses
// them at the point of use.
//
// Key exports:
//
//   - [Config] -- sections Bus, Supervisor, Orchestration, Store,
//     Wire, Telemetry, Logging
//   - [Default] -- a Config mirroring the component defaults
//   - [Load] and [LoadFile] -- the two loading entry points
//
// This package depends on no other Dirigent packages.
package config
