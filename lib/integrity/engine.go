// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package integrity implements the content-verification engine: the
// per-descriptor session registry, the read-verify pipeline, the
// read-verify-modify-write (RVMW) protocol for block-granular writes,
// and the truncate/rename propagation that keeps the metadata store
// coherent with the backing files.
//
// Two verification strategies sit behind one interface, selected at
// mount time: block-granular (one checksum per fixed-size window of a
// file) and whole-file (one checksum per path, verified once per open
// descriptor and committed at close).
package integrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Sohamkayal4103/AugmentFS/lib/checksum"
	"github.com/Sohamkayal4103/AugmentFS/lib/metastore"
)

// Mode selects the verification granularity.
type Mode string

const (
	// ModeBlock verifies fixed-size windows of each file independently.
	ModeBlock Mode = "block"
	// ModeFile verifies whole files, once per open descriptor.
	ModeFile Mode = "file"
)

// DefaultBlockSize is the verification window in block mode.
const DefaultBlockSize = 4096

// ErrChecksumMismatch is returned when on-disk bytes no longer match
// the recorded checksum. The filesystem layer surfaces it as EIO.
var ErrChecksumMismatch = errors.New("integrity: checksum mismatch")

// Role describes a session's verification responsibility.
type Role int

const (
	// RoleReader descriptors verify content before returning bytes.
	RoleReader Role = iota
	// RoleWriter descriptors maintain hash state and commit it.
	RoleWriter
)

type verdict int

const (
	verdictUnknown verdict = iota
	verdictOK
	verdictBad
)

// Session is the per-open-descriptor verification state. Created by
// Engine.Open, destroyed by Engine.Release. A writer's in-progress
// digest is private to its session; other sessions see its effect only
// after close commits it.
type Session struct {
	fd   int
	role Role

	// path is the logical path the descriptor was opened against.
	// Guarded by the engine's registry mutex: rename re-keys it.
	path string

	// digest is the running whole-file accumulator. Present only for
	// writers in file mode; mutated under the per-path lock.
	digest checksum.Digest

	// verdict memoizes the file-mode verification outcome for reader
	// descriptors. Once ok or bad it is never recomputed for the
	// lifetime of the descriptor. Checked and set under the per-path
	// lock; reads on one descriptor can arrive concurrently.
	verdict verdict
}

// Role returns the session's verification role.
func (s *Session) Role() Role { return s.role }

// verifier is the strategy interface the two granularities implement.
// truncate is called with the per-path lock already held.
type verifier interface {
	open(ctx context.Context, s *Session, flags int, created bool) error
	read(ctx context.Context, s *Session, dest []byte, offset int64) (int, error)
	write(ctx context.Context, s *Session, data []byte, offset int64) (int, error)
	release(ctx context.Context, s *Session) error
	truncate(ctx context.Context, path, realPath string, size int64) error
}

// Config holds the parameters for building an engine.
type Config struct {
	// Store is the metadata store holding checksum records. Required.
	Store *metastore.Store

	// Mode selects block-granular or whole-file verification.
	// Defaults to ModeBlock.
	Mode Mode

	// Algorithm names the checksum algorithm for new records.
	// Defaults to FNV-1a.
	Algorithm string

	// BlockSize is the verification window in block mode. Defaults to
	// DefaultBlockSize.
	BlockSize int64

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Engine owns all verification state for one mount: the session
// registry, the per-path lock table, and the strategy in use. Safe for
// concurrent use by the filesystem dispatch layer.
type Engine struct {
	store     *metastore.Store
	mode      Mode
	blockSize int64
	newDigest func() checksum.Digest
	logger    *slog.Logger
	locks     *pathLocks
	strategy  verifier

	// registryMu guards byPath and every Session.path.
	registryMu sync.Mutex
	byPath     map[string]map[*Session]struct{}
}

// New builds an engine. The store must stay open for the engine's
// lifetime.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("integrity: Store is required")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeBlock
	}
	if mode != ModeBlock && mode != ModeFile {
		return nil, fmt.Errorf("integrity: unknown mode %q", mode)
	}

	newDigest, err := checksum.Factory(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	engine := &Engine{
		store:     cfg.Store,
		mode:      mode,
		blockSize: blockSize,
		newDigest: newDigest,
		logger:    logger,
		locks:     newPathLocks(),
		byPath:    make(map[string]map[*Session]struct{}),
	}
	switch mode {
	case ModeBlock:
		engine.strategy = &blockVerifier{engine: engine}
	case ModeFile:
		engine.strategy = &fileVerifier{engine: engine}
	}
	return engine, nil
}

// Mode returns the verification granularity in use.
func (e *Engine) Mode() Mode { return e.mode }

// BlockSize returns the verification window in bytes.
func (e *Engine) BlockSize() int64 { return e.blockSize }

// Open registers verification state for a freshly opened backing
// descriptor. path is the logical (mount-relative) path; fd is the
// open backing descriptor; flags are the caller's original open flags;
// created marks a fresh create (no prior content).
//
// In file mode, a write-capable open of an existing file without
// O_TRUNC must reconcile with on-disk reality before the running hash
// is seeded. If reconciliation fails, Open closes fd and returns
// ErrChecksumMismatch — the caller must not use or close fd again.
func (e *Engine) Open(ctx context.Context, path string, fd int, flags int, created bool) (*Session, error) {
	role := RoleReader
	if flags&unix.O_ACCMODE != unix.O_RDONLY {
		role = RoleWriter
	}

	s := &Session{fd: fd, path: path, role: role}
	if err := e.strategy.open(ctx, s, flags, created); err != nil {
		unix.Close(fd)
		return nil, err
	}

	e.registryMu.Lock()
	sessions := e.byPath[path]
	if sessions == nil {
		sessions = make(map[*Session]struct{})
		e.byPath[path] = sessions
	}
	sessions[s] = struct{}{}
	e.registryMu.Unlock()

	return s, nil
}

// Read performs a verified read: raw bytes first, then checksum
// verification of every record covering the requested range. Returns
// ErrChecksumMismatch without any bytes when verification fails.
func (e *Engine) Read(ctx context.Context, s *Session, dest []byte, offset int64) (int, error) {
	return e.strategy.read(ctx, s, dest, offset)
}

// Write performs a verified write and updates checksum records. In
// block mode this is the RVMW protocol; a pre-write verification
// failure in block k aborts the call but leaves blocks before k
// already committed (multi-block writes are not transactional).
func (e *Engine) Write(ctx context.Context, s *Session, data []byte, offset int64) (int, error) {
	return e.strategy.write(ctx, s, data, offset)
}

// Release commits a writer's running hash (file mode) and discards the
// session. The caller still owns fd and must close it afterwards.
func (e *Engine) Release(ctx context.Context, s *Session) error {
	err := e.strategy.release(ctx, s)

	e.registryMu.Lock()
	path := s.path
	if sessions := e.byPath[path]; sessions != nil {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(e.byPath, path)
		}
	}
	e.registryMu.Unlock()

	return err
}

// Truncate shrinks or grows the backing file and brings checksum
// records and open writer sessions in line with the new content.
func (e *Engine) Truncate(ctx context.Context, path, realPath string, size int64) error {
	e.locks.lock(path)
	defer e.locks.unlock(path)
	return e.strategy.truncate(ctx, path, realPath, size)
}

// Unlink removes every metadata record for a path. The backing unlink
// has already happened; a store failure here surfaces as an error so
// stale records are never silently left behind.
func (e *Engine) Unlink(ctx context.Context, path string) error {
	e.locks.lock(path)
	defer e.locks.unlock(path)
	return e.store.DeletePath(ctx, path)
}

// Rename migrates every metadata record and re-keys open sessions from
// oldPath to newPath. The backing rename has already happened.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string) error {
	first, second := oldPath, newPath
	if second < first {
		first, second = second, first
	}
	e.locks.lock(first)
	defer e.locks.unlock(first)
	if first != second {
		e.locks.lock(second)
		defer e.locks.unlock(second)
	}

	if err := e.store.RenamePath(ctx, oldPath, newPath); err != nil {
		return err
	}

	// Re-key open sessions, including ones under a renamed directory.
	e.registryMu.Lock()
	prefix := oldPath + "/"
	for path, sessions := range e.byPath {
		var renamed string
		switch {
		case path == oldPath:
			renamed = newPath
		case strings.HasPrefix(path, prefix):
			renamed = newPath + path[len(oldPath):]
		default:
			continue
		}
		delete(e.byPath, path)
		moved := e.byPath[renamed]
		if moved == nil {
			moved = make(map[*Session]struct{})
			e.byPath[renamed] = moved
		}
		for s := range sessions {
			s.path = renamed
			moved[s] = struct{}{}
		}
	}
	e.registryMu.Unlock()

	return nil
}

// pathOf returns the session's current logical path (rename-safe).
func (e *Engine) pathOf(s *Session) string {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	return s.path
}

// writersForPath snapshots the writer sessions currently open against
// a path. Used by truncate to rebuild running hashes.
func (e *Engine) writersForPath(path string) []*Session {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()

	var writers []*Session
	for s := range e.byPath[path] {
		if s.role == RoleWriter {
			writers = append(writers, s)
		}
	}
	return writers
}
