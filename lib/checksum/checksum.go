// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum provides the streaming content digests used by the
// integrity engine. Two algorithms are available: 64-bit FNV-1a (the
// default, and the format existing metadata stores were written with)
// and BLAKE3 for deployments that want a cryptographic digest.
//
// Checksums are rendered as lowercase hex without leading zeros for
// FNV-1a, matching the stored record format.
package checksum

import (
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// FNV-1a parameters. OffsetBasis is not the canonical FNV-1a basis;
// existing metadata stores were seeded with this value, so changing it
// would invalidate every recorded checksum.
const (
	OffsetBasis uint64 = 1469598103934665603
	Prime       uint64 = 1099511628211
)

// Supported algorithm names, selected at mount time.
const (
	AlgorithmFNV1a  = "fnv1a"
	AlgorithmBLAKE3 = "blake3"
)

// Digest is an incrementally updatable checksum accumulator. Write
// never fails; it implements io.Writer so digests can sit on the
// receiving end of io.Copy.
type Digest interface {
	Write(p []byte) (int, error)
	HexSum() string
	Reset()
}

// Factory returns a constructor for the named algorithm. The empty
// string selects FNV-1a.
func Factory(algorithm string) (func() Digest, error) {
	switch algorithm {
	case "", AlgorithmFNV1a:
		return func() Digest { return NewFNV1a() }, nil
	case AlgorithmBLAKE3:
		return func() Digest { return newBLAKE3() }, nil
	default:
		return nil, fmt.Errorf("checksum: unknown algorithm %q", algorithm)
	}
}

// Sum hashes data in one shot with a digest from newDigest.
func Sum(newDigest func() Digest, data []byte) string {
	d := newDigest()
	d.Write(data)
	return d.HexSum()
}

// FNV1a is the 64-bit FNV-1a accumulator. Its entire state is one
// uint64, which lets a writer session carry the running hash as a
// plain integer and resume it later.
type FNV1a struct {
	state uint64
}

// NewFNV1a returns an accumulator seeded with OffsetBasis (the hash of
// empty content).
func NewFNV1a() *FNV1a {
	return &FNV1a{state: OffsetBasis}
}

// ResumeFNV1a returns an accumulator continuing from a previously
// captured Sum64 state.
func ResumeFNV1a(state uint64) *FNV1a {
	return &FNV1a{state: state}
}

func (d *FNV1a) Write(p []byte) (int, error) {
	h := d.state
	for _, b := range p {
		h ^= uint64(b)
		h *= Prime
	}
	d.state = h
	return len(p), nil
}

// Sum64 returns the raw accumulator state.
func (d *FNV1a) Sum64() uint64 {
	return d.state
}

func (d *FNV1a) HexSum() string {
	return strconv.FormatUint(d.state, 16)
}

func (d *FNV1a) Reset() {
	d.state = OffsetBasis
}

// blake3Digest adapts zeebo/blake3 to the Digest interface.
type blake3Digest struct {
	hasher *blake3.Hasher
}

func newBLAKE3() *blake3Digest {
	return &blake3Digest{hasher: blake3.New()}
}

func (d *blake3Digest) Write(p []byte) (int, error) {
	return d.hasher.Write(p)
}

func (d *blake3Digest) HexSum() string {
	return fmt.Sprintf("%x", d.hasher.Sum(nil))
}

func (d *blake3Digest) Reset() {
	d.hasher.Reset()
}
