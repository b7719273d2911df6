// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package worm_test

import (
	"testing"

	"github.com/Sohamkayal4103/AugmentFS/lib/worm"
)

func TestCovers(t *testing.T) {
	policy := worm.New([]string{"/logs", "audit", "/archive/2026/"})

	tests := []struct {
		path string
		want bool
	}{
		{"/logs", true},
		{"/logs/app.log", true},
		{"/logs/deep/nested/file", true},
		{"/logs2", false},
		{"/logs2/file", false},
		{"/audit", true},
		{"/audit/trail", true},
		{"/archive/2026", true},
		{"/archive/2026/jan", true},
		{"/archive/2025", false},
		{"/archive", false},
		{"/", false},
		{"/other", false},
	}

	for _, tt := range tests {
		if got := policy.Covers(tt.path); got != tt.want {
			t.Errorf("Covers(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestEmptyPolicy(t *testing.T) {
	policy := worm.New(nil)
	if !policy.Empty() {
		t.Error("nil-dir policy should be empty")
	}
	if policy.Covers("/anything") {
		t.Error("empty policy must cover nothing")
	}

	policy = worm.New([]string{"", "  ", "/"})
	if !policy.Empty() {
		t.Error("blank entries should be dropped")
	}
}
