// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"fmt"
	"path"
	"strings"
)

// maxRecursiveWildcards bounds the "**" segments in one pattern. Each
// one multiplies the matcher's backtracking.
const maxRecursiveWildcards = 4

// Match reports whether an application name matches a pattern.
// Names and patterns are "/"-separated paths:
//
//   - "sensors/blink" matches only itself
//   - "sensors/*" matches "sensors/blink" but not "sensors/imu/raw"
//   - "sensors/**" matches "sensors", "sensors/blink", "sensors/imu/raw"
//   - "**/raw" matches "raw" and "sensors/imu/raw"
//   - "blink-?" matches "blink-a"
//
// "*" and "?" never cross a "/". A malformed pattern or a name with an
// empty segment never matches.
func Match(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for skip := 0; skip <= len(name); skip++ {
				if skip > 0 && name[skip-1] == "" {
					return false
				}
				if matchSegments(rest, name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 || name[0] == "" {
			return false
		}
		matched, err := path.Match(pattern[0], name[0])
		if err != nil || !matched {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

// MatchAny reports whether name matches any pattern. An empty list
// matches nothing.
func MatchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if Match(pattern, name) {
			return true
		}
	}
	return false
}

// ValidatePattern reports why pattern can never match as intended.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	recursive := 0
	for _, segment := range strings.Split(pattern, "/") {
		if segment == "" {
			return fmt.Errorf("pattern %q has an empty segment", pattern)
		}
		if segment == "**" {
			recursive++
			continue
		}
		if strings.Contains(segment, "**") {
			return fmt.Errorf("pattern %q: ** must be a whole segment", pattern)
		}
		if _, err := path.Match(segment, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	if recursive > maxRecursiveWildcards {
		return fmt.Errorf("pattern %q has more than %d ** segments", pattern, maxRecursiveWildcards)
	}
	return nil
}
