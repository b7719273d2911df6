// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package metastore is the persistent side store for integrity
// metadata. It holds three record families keyed by logical
// (mount-relative) path: per-block checksums, whole-file checksums,
// and extended attributes. The store is a single SQLite database file
// kept inside the backing root and opened for the lifetime of the
// mount.
package metastore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DBFileName is the reserved name of the database file inside the
// backing root. The FUSE layer hides this name (and the SQLite WAL
// sidecar files) from the mounted tree.
const DBFileName = ".metadata.db"

const schema = `
CREATE TABLE IF NOT EXISTS block_hashes (
	path        TEXT NOT NULL,
	block_index INTEGER NOT NULL,
	checksum    TEXT,
	PRIMARY KEY (path, block_index)
);
CREATE TABLE IF NOT EXISTS checksums (
	path     TEXT PRIMARY KEY,
	checksum TEXT
);
CREATE TABLE IF NOT EXISTS metadata (
	path  TEXT,
	key   TEXT,
	value BLOB,
	PRIMARY KEY (path, key)
);
`

// Config holds the parameters for opening a metadata store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist; the file is created on first open.
	Path string

	// PoolSize is the number of connections in the pool. If zero or
	// negative, defaults to max(runtime.NumCPU(), 4). SQLite
	// serializes writes regardless; extra connections help concurrent
	// read verification.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store is a pool of SQLite connections over the metadata database.
// Safe for concurrent use; each operation borrows its own connection.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens (creating if needed) the metadata database and applies
// WAL-mode pragmas and the schema to every connection. The caller must
// Close the store at unmount.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("metastore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("metadata store opened", "path", cfg.Path, "pool_size", poolSize)

	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Close closes all connections. Blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("metastore: closing %s: %w", s.path, err)
	}
	s.logger.Info("metadata store closed", "path", s.path)
	return nil
}

// prepareConnection applies pragmas and the schema. Runs once per
// pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("metastore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("metastore: creating schema: %w", err)
	}
	return nil
}

// BlockHash returns the recorded checksum for one block of a file.
// The second return is false when no record exists (the block is
// unverified, not corrupt).
func (s *Store) BlockHash(ctx context.Context, path string, index int64) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("metastore: block hash: %w", err)
	}
	defer s.pool.Put(conn)

	var sum string
	var found bool
	err = sqlitex.Execute(conn, "SELECT checksum FROM block_hashes WHERE path = ? AND block_index = ?", &sqlitex.ExecOptions{
		Args: []any{path, index},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sum = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("metastore: block hash %s[%d]: %w", path, index, err)
	}
	return sum, found && sum != "", nil
}

// SetBlockHash records (upserting) the checksum for one block.
func (s *Store) SetBlockHash(ctx context.Context, path string, index int64, sum string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: set block hash: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT OR REPLACE INTO block_hashes (path, block_index, checksum) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{path, index, sum},
	})
	if err != nil {
		return fmt.Errorf("metastore: set block hash %s[%d]: %w", path, index, err)
	}
	return nil
}

// DeleteBlockHashes removes every block record for a path.
func (s *Store) DeleteBlockHashes(ctx context.Context, path string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: delete block hashes: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM block_hashes WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
	})
	if err != nil {
		return fmt.Errorf("metastore: delete block hashes %s: %w", path, err)
	}
	return nil
}

// DeleteBlockHashesAfter removes block records with index strictly
// greater than index. Used when a truncate cuts the tail off a file.
func (s *Store) DeleteBlockHashesAfter(ctx context.Context, path string, index int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: delete block hashes after: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM block_hashes WHERE path = ? AND block_index > ?", &sqlitex.ExecOptions{
		Args: []any{path, index},
	})
	if err != nil {
		return fmt.Errorf("metastore: delete block hashes %s after %d: %w", path, index, err)
	}
	return nil
}

// FileHash returns the recorded whole-file checksum for a path.
func (s *Store) FileHash(ctx context.Context, path string) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("metastore: file hash: %w", err)
	}
	defer s.pool.Put(conn)

	var sum string
	var found bool
	err = sqlitex.Execute(conn, "SELECT checksum FROM checksums WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sum = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("metastore: file hash %s: %w", path, err)
	}
	return sum, found && sum != "", nil
}

// SetFileHash records (upserting) the whole-file checksum for a path.
func (s *Store) SetFileHash(ctx context.Context, path string, sum string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: set file hash: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO checksums (path, checksum) VALUES (?, ?)
		ON CONFLICT (path) DO UPDATE SET checksum = excluded.checksum`, &sqlitex.ExecOptions{
		Args: []any{path, sum},
	})
	if err != nil {
		return fmt.Errorf("metastore: set file hash %s: %w", path, err)
	}
	return nil
}

// DeletePath removes every record for a path across all tables: block
// checksums, the file checksum, and extended attributes. Used by
// unlink.
func (s *Store) DeletePath(ctx context.Context, path string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: delete path: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("metastore: delete path %s: begin: %w", path, err)
	}
	defer endTransaction(&err)

	for _, table := range []string{"block_hashes", "checksums", "metadata"} {
		err = sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE path = ?", &sqlitex.ExecOptions{
			Args: []any{path},
		})
		if err != nil {
			return fmt.Errorf("metastore: delete path %s from %s: %w", path, table, err)
		}
	}
	return nil
}

// RenamePath rewrites the path column across all tables so integrity
// history follows a renamed file. Without this, records are orphaned
// under the old name and the new name is treated as unverified.
// Renaming a directory migrates the records of everything beneath it.
func (s *Store) RenamePath(ctx context.Context, oldPath, newPath string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("metastore: rename path: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("metastore: rename %s: begin: %w", oldPath, err)
	}
	defer endTransaction(&err)

	for _, table := range []string{"block_hashes", "checksums", "metadata"} {
		// A rename over an existing destination must not collide with
		// the destination's stale rows.
		err = sqlitex.Execute(conn,
			"DELETE FROM "+table+" WHERE path = ? OR substr(path, 1, length(?) + 1) = ? || '/'",
			&sqlitex.ExecOptions{
				Args: []any{newPath, newPath, newPath},
			})
		if err != nil {
			return fmt.Errorf("metastore: rename %s -> %s: clearing %s: %w", oldPath, newPath, table, err)
		}
		err = sqlitex.Execute(conn,
			"UPDATE "+table+" SET path = ? || substr(path, length(?) + 1) WHERE path = ? OR substr(path, 1, length(?) + 1) = ? || '/'",
			&sqlitex.ExecOptions{
				Args: []any{newPath, oldPath, oldPath, oldPath, oldPath},
			})
		if err != nil {
			return fmt.Errorf("metastore: rename %s -> %s in %s: %w", oldPath, newPath, table, err)
		}
	}
	return nil
}
