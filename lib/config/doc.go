// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for the dals tool.
//
// Configuration comes from a single file named by either the
// DALS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no file discovery. Without a file the
// command uses [Default].
//
// The file may carry development, staging, and production sections
// that override base values when [Config].Environment matches.
// Production defaults are stricter: every flash write is synced.
//
// ${HOME}, ${DALS_STATE}, and ${VAR:-default} patterns are expanded in
// path fields after loading. No other environment variables override
// config values.
//
// This package depends on no other DALS packages.
package config
