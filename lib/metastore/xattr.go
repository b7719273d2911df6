// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package metastore

import (
	"context"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Xattr returns the value of one extended attribute. The second
// return is false when the attribute does not exist.
func (s *Store) Xattr(ctx context.Context, path, key string) ([]byte, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("metastore: xattr: %w", err)
	}
	defer s.pool.Put(conn)

	var value []byte
	var found bool
	err = sqlitex.Execute(conn, "SELECT value FROM metadata WHERE path = ? AND key = ?", &sqlitex.ExecOptions{
		Args: []any{path, key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("metastore: xattr %s %s: %w", path, key, err)
	}
	return value, found, nil
}

// SetXattr records (upserting) one extended attribute.
func (s *Store) SetXattr(ctx context.Context, path, key string, value []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: set xattr: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT OR REPLACE INTO metadata (path, key, value) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{path, key, value},
	})
	if err != nil {
		return fmt.Errorf("metastore: set xattr %s %s: %w", path, key, err)
	}
	return nil
}

// RemoveXattr deletes one extended attribute. Returns false when the
// attribute did not exist.
func (s *Store) RemoveXattr(ctx context.Context, path, key string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("metastore: remove xattr: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM metadata WHERE path = ? AND key = ?", &sqlitex.ExecOptions{
		Args: []any{path, key},
	})
	if err != nil {
		return false, fmt.Errorf("metastore: remove xattr %s %s: %w", path, key, err)
	}
	return conn.Changes() > 0, nil
}

// ListXattrs returns the attribute keys recorded for a path, sorted.
func (s *Store) ListXattrs(ctx context.Context, path string) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("metastore: list xattrs: %w", err)
	}
	defer s.pool.Put(conn)

	var keys []string
	err = sqlitex.Execute(conn, "SELECT key FROM metadata WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: list xattrs %s: %w", path, err)
	}
	sort.Strings(keys)
	return keys, nil
}
