// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"io"

	"golang.org/x/sys/unix"
)

// preadFull reads from fd at offset until buf is full or EOF. Returns
// the number of bytes read. Plain pread may return short for no
// reason; verification needs the whole window.
func preadFull(fd int, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], offset+int64(total))
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// streamFd copies the file's entire content (from offset zero,
// independent of any file position) into w. Used to hash existing
// content without disturbing the descriptor.
func streamFd(fd int, w io.Writer) error {
	buf := make([]byte, 64*1024)
	offset := int64(0)
	for {
		n, err := unix.Pread(fd, buf, offset)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		offset += int64(n)
	}
}
