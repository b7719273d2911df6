// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package augmentfs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/Sohamkayal4103/AugmentFS/lib/integrity"
)

func TestIsReserved(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".metadata.db", true},
		{".metadata.db-wal", true},
		{".metadata.db-shm", true},
		{".metadata.db-journal", true},
		{".metadata.dbx", false},
		{"metadata.db", false},
		{"file.txt", false},
	}
	for _, tt := range tests {
		if got := isReserved(tt.name); got != tt.want {
			t.Errorf("isReserved(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMangleOpenFlags(t *testing.T) {
	tests := []struct {
		flags uint32
		want  int
	}{
		{uint32(unix.O_RDONLY), unix.O_RDONLY},
		{uint32(unix.O_WRONLY), unix.O_RDWR},
		{uint32(unix.O_RDWR), unix.O_RDWR},
		{uint32(unix.O_WRONLY | unix.O_APPEND), unix.O_RDWR},
		{uint32(unix.O_RDWR | unix.O_APPEND), unix.O_RDWR},
		{uint32(unix.O_WRONLY | unix.O_TRUNC), unix.O_RDWR | unix.O_TRUNC},
		{uint32(unix.O_RDONLY | unix.O_NOATIME), unix.O_RDONLY | unix.O_NOATIME},
	}
	for _, tt := range tests {
		if got := mangleOpenFlags(tt.flags); got != tt.want {
			t.Errorf("mangleOpenFlags(%#o) = %#o, want %#o", tt.flags, got, tt.want)
		}
	}
}

func TestErrnoFromErr(t *testing.T) {
	if errno := errnoFromErr(nil); errno != 0 {
		t.Errorf("errnoFromErr(nil) = %v, want 0", errno)
	}

	wrapped := fmt.Errorf("block 3 of /a/b: %w", integrity.ErrChecksumMismatch)
	if errno := errnoFromErr(wrapped); errno != syscall.EIO {
		t.Errorf("errnoFromErr(checksum mismatch) = %v, want EIO", errno)
	}

	if errno := errnoFromErr(syscall.ENOSPC); errno != syscall.ENOSPC {
		t.Errorf("errnoFromErr(ENOSPC) = %v, want ENOSPC", errno)
	}

	wrappedErrno := fmt.Errorf("writing block: %w", syscall.EDQUOT)
	if errno := errnoFromErr(wrappedErrno); errno != syscall.EDQUOT {
		t.Errorf("errnoFromErr(wrapped EDQUOT) = %v, want EDQUOT", errno)
	}

	if errno := errnoFromErr(errors.New("opaque store failure")); errno != syscall.EIO {
		t.Errorf("errnoFromErr(opaque) = %v, want EIO", errno)
	}
}
