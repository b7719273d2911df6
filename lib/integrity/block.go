// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Sohamkayal4103/AugmentFS/lib/checksum"
)

// blockVerifier implements block-granular verification: one checksum
// record per BlockSize window of each file. Records are committed on
// every successful write, so close commits nothing.
type blockVerifier struct {
	engine *Engine
}

func (v *blockVerifier) open(ctx context.Context, s *Session, flags int, created bool) error {
	// No per-descriptor hash state: every write commits its blocks
	// immediately and every read verifies against the store. A
	// truncating open empties the file, so stale block records must
	// go with it.
	if s.role == RoleWriter && flags&unix.O_TRUNC != 0 && !created {
		e := v.engine
		e.locks.lock(s.path)
		defer e.locks.unlock(s.path)
		return e.store.DeleteBlockHashes(ctx, s.path)
	}
	return nil
}

// read performs the raw read first (the backing bytes drive length and
// EOF semantics), then re-reads and verifies every full block the
// requested range intersects. A mismatch anywhere fails the whole call
// with no bytes returned, even if only a later block is corrupt.
func (v *blockVerifier) read(ctx context.Context, s *Session, dest []byte, offset int64) (int, error) {
	e := v.engine
	path := e.pathOf(s)

	e.locks.lock(path)
	defer e.locks.unlock(path)

	n, err := unix.Pread(s.fd, dest, offset)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	blockSize := e.blockSize
	block := make([]byte, blockSize)

	current := offset
	remaining := int64(n)
	for remaining > 0 {
		index := current / blockSize
		blockStart := index * blockSize

		stored, ok, storeErr := e.store.BlockHash(ctx, path, index)
		if storeErr != nil {
			// Fail-open: an unreachable store cannot distinguish
			// corrupt from unverified, and lookups are allowed to
			// degrade to "unverified".
			e.logger.Warn("block hash lookup failed, treating block as unverified",
				"path", path, "block", index, "error", storeErr)
			ok = false
		}
		if ok {
			read, readErr := preadFull(s.fd, block, blockStart)
			if readErr != nil {
				return 0, fmt.Errorf("re-reading block %d of %s: %w", index, path, readErr)
			}
			if read > 0 {
				sum := checksum.Sum(e.newDigest, block[:read])
				if sum != stored {
					e.logger.Error("block corrupted",
						"path", path, "block", index,
						"stored", stored, "actual", sum)
					return 0, fmt.Errorf("block %d of %s: %w", index, path, ErrChecksumMismatch)
				}
			}
		}

		advance := blockSize - current%blockSize
		if advance > remaining {
			advance = remaining
		}
		current += advance
		remaining -= advance
	}

	return n, nil
}

// write is the RVMW protocol: for every block the write touches, read
// the whole current block, verify it against its stored checksum,
// splice in the caller's bytes, write the full block back at the
// block-aligned offset, and commit the new checksum. A verification
// failure in a later block aborts the call with earlier blocks already
// committed; the protocol is not transactional across blocks.
func (v *blockVerifier) write(ctx context.Context, s *Session, data []byte, offset int64) (int, error) {
	e := v.engine
	path := e.pathOf(s)

	e.locks.lock(path)
	defer e.locks.unlock(path)

	blockSize := e.blockSize
	block := make([]byte, blockSize)

	written := int64(0)
	size := int64(len(data))
	for written < size {
		current := offset + written
		index := current / blockSize
		blockStart := index * blockSize
		intra := current % blockSize
		chunk := min(size-written, blockSize-intra)

		// Full-window read, same as the verify path: a short pread
		// here would hash a prefix of the block and either trip the
		// gate falsely or commit a wrong-length record.
		clear(block)
		existing, err := preadFull(s.fd, block, blockStart)
		if err != nil {
			existing = 0
		}

		// Pre-write verification gate: never layer new bytes on top
		// of silently corrupted content.
		if existing > 0 {
			stored, ok, storeErr := e.store.BlockHash(ctx, path, index)
			if storeErr != nil {
				e.logger.Warn("block hash lookup failed, treating block as unverified",
					"path", path, "block", index, "error", storeErr)
				ok = false
			}
			if ok {
				sum := checksum.Sum(e.newDigest, block[:existing])
				if sum != stored {
					e.logger.Error("write blocked, pre-write verification failed",
						"path", path, "block", index,
						"stored", stored, "actual", sum)
					return 0, fmt.Errorf("block %d of %s: %w", index, path, ErrChecksumMismatch)
				}
			}
		}

		copy(block[intra:], data[written:written+chunk])
		newLen := max(int64(existing), intra+chunk)

		// Always write the full block at its aligned offset: a
		// sub-block write could leave a torn block on failure.
		if _, err := unix.Pwrite(s.fd, block[:newLen], blockStart); err != nil {
			return 0, fmt.Errorf("writing block %d of %s: %w", index, path, err)
		}

		// Commit is fail-closed: skipping the update would leave the
		// store disagreeing with bytes we just wrote.
		sum := checksum.Sum(e.newDigest, block[:newLen])
		if err := e.store.SetBlockHash(ctx, path, index, sum); err != nil {
			return 0, err
		}

		written += chunk
	}

	return int(size), nil
}

func (v *blockVerifier) release(ctx context.Context, s *Session) error {
	return nil
}

// truncate resizes the backing file and eagerly re-hashes whichever
// boundary block changed content. Shrinking deletes records beyond the
// new EOF and re-hashes the new boundary block when the cut lands
// mid-block; growing zero-pads the old boundary block out toward its
// full extent, so that block's record must be recomputed too —
// otherwise a later verified read of untampered data would fail.
func (v *blockVerifier) truncate(ctx context.Context, path, realPath string, size int64) error {
	e := v.engine

	info, err := os.Stat(realPath)
	if err != nil {
		return err
	}
	oldSize := info.Size()

	if err := os.Truncate(realPath, size); err != nil {
		return err
	}

	if size == 0 {
		return e.store.DeleteBlockHashes(ctx, path)
	}

	blockSize := e.blockSize

	if size < oldSize {
		lastIndex := size / blockSize
		if size%blockSize == 0 {
			// Exact boundary: the block at lastIndex starts at the
			// new EOF and no longer exists.
			return e.store.DeleteBlockHashesAfter(ctx, path, lastIndex-1)
		}
		if err := e.store.DeleteBlockHashesAfter(ctx, path, lastIndex); err != nil {
			return err
		}
		return v.rehashBlock(ctx, path, realPath, lastIndex, size)
	}

	if size > oldSize && oldSize%blockSize != 0 {
		return v.rehashBlock(ctx, path, realPath, oldSize/blockSize, size)
	}
	return nil
}

// rehashBlock recomputes the record for one block over its extent in a
// file of the given size, when a record exists. An unrecorded block
// stays unverified.
func (v *blockVerifier) rehashBlock(ctx context.Context, path, realPath string, index, size int64) error {
	e := v.engine

	_, ok, err := e.store.BlockHash(ctx, path, index)
	if err != nil || !ok {
		return err
	}

	file, err := os.Open(realPath)
	if err != nil {
		return err
	}
	defer file.Close()

	blockStart := index * e.blockSize
	block := make([]byte, min(e.blockSize, size-blockStart))
	read, err := preadFull(int(file.Fd()), block, blockStart)
	if err != nil {
		return fmt.Errorf("re-hashing block %d of %s: %w", index, path, err)
	}
	return e.store.SetBlockHash(ctx, path, index, checksum.Sum(e.newDigest, block[:read]))
}
