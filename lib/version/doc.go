// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the dals binary.
//
// Version information is injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/dals/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the VCS stamp the Go toolchain
// embeds (see runtime/debug.ReadBuildInfo) is used instead.
package version
