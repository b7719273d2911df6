// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func openTestFile(t *testing.T, content []byte) int {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func TestPreadFull(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 512) // 4096 bytes
	fd := openTestFile(t, content)

	// Full window: every byte of the buffer is filled. RVMW and the
	// verify path both depend on whole-window reads, not whatever a
	// single pread happens to return.
	buf := make([]byte, 4096)
	n, err := preadFull(fd, buf, 0)
	if err != nil {
		t.Fatalf("preadFull: %v", err)
	}
	if n != 4096 || !bytes.Equal(buf, content) {
		t.Errorf("read %d bytes, content mismatch", n)
	}

	// Window past EOF comes back short, not failed.
	n, err = preadFull(fd, buf, 4000)
	if err != nil {
		t.Fatalf("preadFull at tail: %v", err)
	}
	if n != 96 || !bytes.Equal(buf[:n], content[4000:]) {
		t.Errorf("tail read = %d bytes, want 96", n)
	}

	// Window entirely past EOF reads nothing.
	n, err = preadFull(fd, buf, 8192)
	if err != nil || n != 0 {
		t.Errorf("read past EOF: n=%d err=%v, want 0, nil", n, err)
	}
}

func TestStreamFd(t *testing.T) {
	content := bytes.Repeat([]byte("stream"), 30000) // past one 64KiB chunk
	fd := openTestFile(t, content)

	var sink bytes.Buffer
	if err := streamFd(fd, &sink); err != nil {
		t.Fatalf("streamFd: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Errorf("streamed %d bytes, content mismatch", sink.Len())
	}
}
