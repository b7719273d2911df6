// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package metastore_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/Sohamkayal4103/AugmentFS/lib/metastore"
)

func openTestStore(t *testing.T) *metastore.Store {
	t.Helper()

	store, err := metastore.Open(metastore.Config{
		Path:     filepath.Join(t.TempDir(), metastore.DBFileName),
		PoolSize: 4,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestBlockHashRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.BlockHash(ctx, "/file", 0)
	if err != nil {
		t.Fatalf("BlockHash: %v", err)
	}
	if ok {
		t.Fatal("expected no record for fresh path")
	}

	if err := store.SetBlockHash(ctx, "/file", 0, "abc123"); err != nil {
		t.Fatalf("SetBlockHash: %v", err)
	}
	if err := store.SetBlockHash(ctx, "/file", 7, "def456"); err != nil {
		t.Fatalf("SetBlockHash: %v", err)
	}

	sum, ok, err := store.BlockHash(ctx, "/file", 7)
	if err != nil {
		t.Fatalf("BlockHash: %v", err)
	}
	if !ok || sum != "def456" {
		t.Errorf("BlockHash = %q, %v; want def456, true", sum, ok)
	}

	// Upsert overwrites.
	if err := store.SetBlockHash(ctx, "/file", 7, "fresh"); err != nil {
		t.Fatalf("SetBlockHash: %v", err)
	}
	sum, _, _ = store.BlockHash(ctx, "/file", 7)
	if sum != "fresh" {
		t.Errorf("after upsert, BlockHash = %q, want fresh", sum)
	}
}

func TestDeleteBlockHashesAfter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		if err := store.SetBlockHash(ctx, "/file", i, "h"); err != nil {
			t.Fatalf("SetBlockHash(%d): %v", i, err)
		}
	}

	// Strictly greater: index 2 survives.
	if err := store.DeleteBlockHashesAfter(ctx, "/file", 2); err != nil {
		t.Fatalf("DeleteBlockHashesAfter: %v", err)
	}

	for i := int64(0); i < 5; i++ {
		_, ok, err := store.BlockHash(ctx, "/file", i)
		if err != nil {
			t.Fatalf("BlockHash(%d): %v", i, err)
		}
		if want := i <= 2; ok != want {
			t.Errorf("block %d present = %v, want %v", i, ok, want)
		}
	}
}

func TestFileHash(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SetFileHash(ctx, "/doc", "cafe"); err != nil {
		t.Fatalf("SetFileHash: %v", err)
	}
	if err := store.SetFileHash(ctx, "/doc", "f00d"); err != nil {
		t.Fatalf("SetFileHash upsert: %v", err)
	}

	sum, ok, err := store.FileHash(ctx, "/doc")
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}
	if !ok || sum != "f00d" {
		t.Errorf("FileHash = %q, %v; want f00d, true", sum, ok)
	}
}

func TestDeletePathClearsAllTables(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.SetBlockHash(ctx, "/gone", 0, "h")
	store.SetFileHash(ctx, "/gone", "h")
	store.SetXattr(ctx, "/gone", "user.tag", []byte("v"))

	if err := store.DeletePath(ctx, "/gone"); err != nil {
		t.Fatalf("DeletePath: %v", err)
	}

	if _, ok, _ := store.BlockHash(ctx, "/gone", 0); ok {
		t.Error("block hash survived DeletePath")
	}
	if _, ok, _ := store.FileHash(ctx, "/gone"); ok {
		t.Error("file hash survived DeletePath")
	}
	if _, ok, _ := store.Xattr(ctx, "/gone", "user.tag"); ok {
		t.Error("xattr survived DeletePath")
	}
}

func TestRenamePath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.SetBlockHash(ctx, "/old", 3, "b3")
	store.SetFileHash(ctx, "/old", "whole")
	store.SetXattr(ctx, "/old", "user.note", []byte("kept"))

	// Stale rows under the destination must be replaced, not joined.
	store.SetFileHash(ctx, "/new", "stale")

	if err := store.RenamePath(ctx, "/old", "/new"); err != nil {
		t.Fatalf("RenamePath: %v", err)
	}

	if _, ok, _ := store.BlockHash(ctx, "/old", 3); ok {
		t.Error("block hash still under old path")
	}
	sum, ok, _ := store.BlockHash(ctx, "/new", 3)
	if !ok || sum != "b3" {
		t.Errorf("renamed block hash = %q, %v; want b3, true", sum, ok)
	}
	sum, ok, _ = store.FileHash(ctx, "/new")
	if !ok || sum != "whole" {
		t.Errorf("renamed file hash = %q, %v; want whole, true", sum, ok)
	}
	value, ok, _ := store.Xattr(ctx, "/new", "user.note")
	if !ok || !bytes.Equal(value, []byte("kept")) {
		t.Errorf("renamed xattr = %q, %v; want kept, true", value, ok)
	}
}

func TestXattrs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Xattr(ctx, "/f", "user.a"); err != nil || ok {
		t.Fatalf("Xattr on empty = %v, %v; want absent", ok, err)
	}

	store.SetXattr(ctx, "/f", "user.b", []byte("2"))
	store.SetXattr(ctx, "/f", "user.a", []byte("1"))

	keys, err := store.ListXattrs(ctx, "/f")
	if err != nil {
		t.Fatalf("ListXattrs: %v", err)
	}
	if len(keys) != 2 || keys[0] != "user.a" || keys[1] != "user.b" {
		t.Errorf("ListXattrs = %v, want [user.a user.b]", keys)
	}

	removed, err := store.RemoveXattr(ctx, "/f", "user.a")
	if err != nil || !removed {
		t.Fatalf("RemoveXattr = %v, %v; want true, nil", removed, err)
	}
	removed, err = store.RemoveXattr(ctx, "/f", "user.a")
	if err != nil || removed {
		t.Fatalf("second RemoveXattr = %v, %v; want false, nil", removed, err)
	}
}

func TestRecordsPersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), metastore.DBFileName)
	ctx := context.Background()

	store, err := metastore.Open(metastore.Config{Path: dbPath, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.SetBlockHash(ctx, "/persist", 1, "sum"); err != nil {
		t.Fatalf("SetBlockHash: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = metastore.Open(metastore.Config{Path: dbPath, PoolSize: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	sum, ok, err := store.BlockHash(ctx, "/persist", 1)
	if err != nil {
		t.Fatalf("BlockHash after reopen: %v", err)
	}
	if !ok || sum != "sum" {
		t.Errorf("after reopen BlockHash = %q, %v; want sum, true", sum, ok)
	}
}
