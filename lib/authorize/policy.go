// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/dals/lib/appimage"
)

// ErrDenied is wrapped by every policy refusal.
var ErrDenied = errors.New("authorize: denied")

// Policy decides which applications may run.
type Policy struct {
	// Allow lists name patterns that may run. An empty list allows
	// nothing.
	Allow []string `json:"allow"`

	// Deny lists name patterns that may not run, even when allowed.
	Deny []string `json:"deny,omitempty"`

	// MaxRAM rejects images whose metadata asks for more RAM than
	// this many bytes. Zero means no limit.
	MaxRAM uint32 `json:"max_ram,omitempty"`
}

// Validate checks every pattern in the policy.
func (p Policy) Validate() error {
	var errs []error
	for _, pattern := range p.Allow {
		if err := ValidatePattern(pattern); err != nil {
			errs = append(errs, fmt.Errorf("allow: %w", err))
		}
	}
	for _, pattern := range p.Deny {
		if err := ValidatePattern(pattern); err != nil {
			errs = append(errs, fmt.Errorf("deny: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Decide returns nil if metadata describes an application the policy
// lets run, or an error wrapping ErrDenied that says why not.
func (p Policy) Decide(metadata appimage.Metadata) error {
	name := metadata.Name
	if MatchAny(p.Deny, name) {
		return fmt.Errorf("%w: %q matches a deny pattern", ErrDenied, name)
	}
	if !MatchAny(p.Allow, name) {
		return fmt.Errorf("%w: %q matches no allow pattern", ErrDenied, name)
	}
	if p.MaxRAM > 0 && metadata.MinimumRAM > p.MaxRAM {
		return fmt.Errorf("%w: %q needs %d bytes of RAM, limit is %d",
			ErrDenied, name, metadata.MinimumRAM, p.MaxRAM)
	}
	return nil
}

// ParsePolicy decodes a JSONC policy and validates it. Unknown fields
// are rejected so a misspelled "deny" cannot silently allow.
func ParsePolicy(data []byte) (Policy, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var policy Policy
	if err := decoder.Decode(&policy); err != nil {
		return Policy{}, fmt.Errorf("parsing policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

// LoadPolicy reads a JSONC policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading %s: %w", path, err)
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}
