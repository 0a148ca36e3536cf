// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authorize decides whether a verified application image may
// run on this device.
//
// Decisions come from a [Policy]: allow and deny lists of
// hierarchical name patterns (see [Match]) plus an optional RAM
// budget. Policies are authored as JSONC files:
//
//	{
//	  // Everything our team ships, except experiments.
//	  "allow": ["sensors/**", "tools/*"],
//	  "deny":  ["**/experimental-*"],
//	  "max_ram": 65536,
//	}
//
// The [Authorizer] reads the image metadata back from flash and
// applies the policy.
package authorize
