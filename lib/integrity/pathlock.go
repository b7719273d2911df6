// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import "sync"

// pathLocks serializes verification sequences per logical path. Two
// concurrent RVMW writes (or a write racing a truncate) on the same
// path must not interleave their read/verify/write sub-steps, or a
// committed checksum can disagree with the final on-disk bytes.
//
// Entries are reference counted and dropped when the last holder
// releases, so the table stays proportional to in-flight operations.
type pathLocks struct {
	mu      sync.Mutex
	entries map[string]*pathLockEntry
}

type pathLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{entries: make(map[string]*pathLockEntry)}
}

func (l *pathLocks) lock(path string) {
	l.mu.Lock()
	entry := l.entries[path]
	if entry == nil {
		entry = &pathLockEntry{}
		l.entries[path] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *pathLocks) unlock(path string) {
	l.mu.Lock()
	entry := l.entries[path]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, path)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
