// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package worm implements the append-only directory policy. Paths
// under a configured prefix may grow but can never be truncated,
// unlinked, renamed, or reopened with truncation.
package worm

import "strings"

// Policy is a fixed set of absolute path prefixes, decided at mount
// time. The zero value covers nothing.
type Policy struct {
	prefixes []string
}

// New builds a policy from directory names. Entries are normalized to
// absolute form ("logs" becomes "/logs") and trailing slashes are
// stripped; empty entries are ignored.
func New(dirs []string) *Policy {
	p := &Policy{}
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if !strings.HasPrefix(dir, "/") {
			dir = "/" + dir
		}
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			continue
		}
		p.prefixes = append(p.prefixes, dir)
	}
	return p
}

// Covers reports whether path falls under a protected prefix. A path
// is covered when it equals a prefix or starts with prefix + "/".
// Matching is on whole path segments: "/logs2" is not covered by
// "/logs".
func (p *Policy) Covers(path string) bool {
	for _, prefix := range p.prefixes {
		if path == prefix {
			return true
		}
		if len(path) > len(prefix) && strings.HasPrefix(path, prefix) && path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// Empty reports whether the policy protects no paths.
func (p *Policy) Empty() bool {
	return len(p.prefixes) == 0
}
