// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"sync"
	"testing"
)

func TestPathLocksMutualExclusion(t *testing.T) {
	locks := newPathLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				locks.lock("/a")
				counter++
				locks.unlock("/a")
			}
		}()
	}
	wg.Wait()

	if counter != 1600 {
		t.Errorf("counter = %d, want 1600", counter)
	}
}

func TestPathLocksEntriesReclaimed(t *testing.T) {
	locks := newPathLocks()

	locks.lock("/a")
	locks.lock("/b")
	locks.unlock("/b")
	locks.unlock("/a")

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Errorf("%d lock entries still held, want 0", len(locks.entries))
	}
}

func TestPathLocksIndependentPaths(t *testing.T) {
	locks := newPathLocks()

	// Holding one path must not block another.
	locks.lock("/a")
	done := make(chan struct{})
	go func() {
		locks.lock("/b")
		locks.unlock("/b")
		close(done)
	}()
	<-done
	locks.unlock("/a")
}
