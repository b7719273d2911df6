// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package checksum_test

import (
	"testing"

	"github.com/Sohamkayal4103/AugmentFS/lib/checksum"
)

func TestEmptyContentHash(t *testing.T) {
	d := checksum.NewFNV1a()
	if d.Sum64() != checksum.OffsetBasis {
		t.Errorf("empty digest state = %d, want OffsetBasis", d.Sum64())
	}
}

func TestIncrementalMatchesWholeBuffer(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	whole := checksum.NewFNV1a()
	whole.Write(data)

	pieces := checksum.NewFNV1a()
	for _, b := range data {
		pieces.Write([]byte{b})
	}

	if whole.HexSum() != pieces.HexSum() {
		t.Errorf("incremental = %s, whole-buffer = %s", pieces.HexSum(), whole.HexSum())
	}
}

func TestResume(t *testing.T) {
	data := []byte("some file content written in two calls")

	full := checksum.NewFNV1a()
	full.Write(data)

	first := checksum.NewFNV1a()
	first.Write(data[:10])
	resumed := checksum.ResumeFNV1a(first.Sum64())
	resumed.Write(data[10:])

	if resumed.HexSum() != full.HexSum() {
		t.Errorf("resumed = %s, want %s", resumed.HexSum(), full.HexSum())
	}
}

func TestReset(t *testing.T) {
	d := checksum.NewFNV1a()
	d.Write([]byte("garbage"))
	d.Reset()
	if d.Sum64() != checksum.OffsetBasis {
		t.Errorf("state after Reset = %d, want OffsetBasis", d.Sum64())
	}
}

func TestHexFormat(t *testing.T) {
	// Lowercase hex, no zero padding: a known single-byte input.
	d := checksum.NewFNV1a()
	d.Write([]byte{0x00})

	basis := uint64(checksum.OffsetBasis)
	want := basis * checksum.Prime
	d2 := checksum.ResumeFNV1a(want)
	if d.HexSum() != d2.HexSum() {
		t.Errorf("HexSum = %s, want %s", d.HexSum(), d2.HexSum())
	}
}

func TestFactory(t *testing.T) {
	for _, algorithm := range []string{"", checksum.AlgorithmFNV1a, checksum.AlgorithmBLAKE3} {
		newDigest, err := checksum.Factory(algorithm)
		if err != nil {
			t.Fatalf("Factory(%q): %v", algorithm, err)
		}
		first := checksum.Sum(newDigest, []byte("payload"))
		second := checksum.Sum(newDigest, []byte("payload"))
		if first != second {
			t.Errorf("algorithm %q is not deterministic: %s != %s", algorithm, first, second)
		}
		if first == checksum.Sum(newDigest, []byte("other")) {
			t.Errorf("algorithm %q: distinct inputs collided", algorithm)
		}
	}

	if _, err := checksum.Factory("md5"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	fnv, _ := checksum.Factory(checksum.AlgorithmFNV1a)
	b3, _ := checksum.Factory(checksum.AlgorithmBLAKE3)
	if checksum.Sum(fnv, []byte("x")) == checksum.Sum(b3, []byte("x")) {
		t.Error("fnv1a and blake3 produced the same digest")
	}
}
