// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package augmentfs

import (
	"context"
	"path/filepath"
	"strings"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/Sohamkayal4103/AugmentFS/lib/metastore"
)

// node is a loopback node that gates mutations with the append-only
// policy, routes file I/O through the integrity engine, and serves
// extended attributes from the metadata store.
type node struct {
	gofuse.LoopbackNode
	mount *mountState
}

var _ = (gofuse.NodeLookuper)((*node)(nil))
var _ = (gofuse.NodeReaddirer)((*node)(nil))
var _ = (gofuse.NodeCreater)((*node)(nil))
var _ = (gofuse.NodeOpener)((*node)(nil))
var _ = (gofuse.NodeSetattrer)((*node)(nil))
var _ = (gofuse.NodeUnlinker)((*node)(nil))
var _ = (gofuse.NodeRenamer)((*node)(nil))
var _ = (gofuse.NodeGetxattrer)((*node)(nil))
var _ = (gofuse.NodeSetxattrer)((*node)(nil))
var _ = (gofuse.NodeRemovexattrer)((*node)(nil))
var _ = (gofuse.NodeListxattrer)((*node)(nil))

// isReserved reports whether a root directory entry belongs to the
// metadata database (the database file itself or a SQLite sidecar like
// -wal or -shm). Reserved names are invisible and untouchable through
// the mount.
func isReserved(name string) bool {
	return name == metastore.DBFileName || strings.HasPrefix(name, metastore.DBFileName+"-")
}

// logicalPath is the mount-relative path of this node, always starting
// with "/". This is the key used for metadata records and locks.
func (n *node) logicalPath() string {
	return "/" + n.Path(n.Root())
}

// backingPath is the node's path on the host filesystem.
func (n *node) backingPath() string {
	return filepath.Join(n.RootData.Path, n.Path(n.Root()))
}

// mangleOpenFlags rewrites the caller's open flags for the backing
// descriptor. Verified writes need read access to existing content and
// write at computed offsets, so write-only becomes read-write and
// O_APPEND is dropped (the kernel supplies explicit offsets either
// way).
func mangleOpenFlags(flags uint32) int {
	mangled := int(flags)
	if mangled&unix.O_ACCMODE == unix.O_WRONLY {
		mangled = mangled&^unix.O_ACCMODE | unix.O_RDWR
	}
	mangled &^= unix.O_APPEND
	return mangled
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if n.IsRoot() && isReserved(name) {
		return nil, syscall.ENOENT
	}
	return n.LoopbackNode.Lookup(ctx, name, out)
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	stream, errno := n.LoopbackNode.Readdir(ctx)
	if errno != 0 {
		return stream, errno
	}
	if !n.IsRoot() {
		return stream, 0
	}
	return &hidingDirStream{inner: stream}, 0
}

// hidingDirStream filters reserved names out of the root directory
// listing.
type hidingDirStream struct {
	inner gofuse.DirStream
	entry fuse.DirEntry
	errno syscall.Errno
	ready bool
}

func (s *hidingDirStream) HasNext() bool {
	for !s.ready && s.inner.HasNext() {
		entry, errno := s.inner.Next()
		if errno != 0 {
			s.entry, s.errno, s.ready = entry, errno, true
			break
		}
		if isReserved(entry.Name) {
			continue
		}
		s.entry, s.ready = entry, true
	}
	return s.ready
}

func (s *hidingDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	s.ready = false
	return s.entry, s.errno
}

func (s *hidingDirStream) Close() {
	s.inner.Close()
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	if n.IsRoot() && isReserved(name) {
		return nil, nil, 0, syscall.EPERM
	}

	logical := filepath.Join(n.logicalPath(), name)
	backing := filepath.Join(n.backingPath(), name)

	var st syscall.Stat_t
	existed := syscall.Lstat(backing, &st) == nil

	// Creating new files under an append-only prefix is allowed; a
	// truncating re-create of an existing one is not.
	if existed && n.mount.policy.Covers(logical) && flags&uint32(unix.O_TRUNC) != 0 {
		return nil, nil, 0, syscall.EPERM
	}

	fd, err := syscall.Open(backing, mangleOpenFlags(flags)|unix.O_CREAT, mode)
	if err != nil {
		return nil, nil, 0, gofuse.ToErrno(err)
	}
	n.preserveOwner(ctx, backing)

	if err := syscall.Fstat(fd, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, 0, gofuse.ToErrno(err)
	}

	session, err := n.mount.engine.Open(ctx, logical, fd, mangleOpenFlags(flags), !existed)
	if err != nil {
		// The engine closed fd.
		return nil, nil, 0, errnoFromErr(err)
	}

	child := &node{
		LoopbackNode: gofuse.LoopbackNode{RootData: n.RootData},
		mount:        n.mount,
	}
	inode := n.NewInode(ctx, child, idFromStat(n.RootData.Dev, &st))
	out.FromStat(&st)

	return inode, &integrityFile{fd: fd, session: session, mount: n.mount}, 0, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	logical := n.logicalPath()

	if flags&uint32(unix.O_TRUNC) != 0 && n.mount.policy.Covers(logical) {
		return nil, 0, syscall.EPERM
	}

	fd, err := syscall.Open(n.backingPath(), mangleOpenFlags(flags), 0)
	if err != nil {
		return nil, 0, gofuse.ToErrno(err)
	}

	session, err := n.mount.engine.Open(ctx, logical, fd, mangleOpenFlags(flags), false)
	if err != nil {
		return nil, 0, errnoFromErr(err)
	}

	return &integrityFile{fd: fd, session: session, mount: n.mount}, 0, 0
}

func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		logical := n.logicalPath()
		if n.mount.policy.Covers(logical) {
			return syscall.EPERM
		}
		if err := n.mount.engine.Truncate(ctx, logical, n.backingPath(), int64(size)); err != nil {
			n.mount.logger.Error("truncate failed", "path", logical, "size", size, "error", err)
			return errnoFromErr(err)
		}
		in.Valid &^= fuse.FATTR_SIZE
	}
	return n.LoopbackNode.Setattr(ctx, f, in, out)
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.IsRoot() && isReserved(name) {
		return syscall.EPERM
	}

	logical := filepath.Join(n.logicalPath(), name)
	if n.mount.policy.Covers(logical) {
		return syscall.EPERM
	}

	if errno := n.LoopbackNode.Unlink(ctx, name); errno != 0 {
		return errno
	}
	if err := n.mount.engine.Unlink(ctx, logical); err != nil {
		n.mount.logger.Error("unlink metadata cleanup failed", "path", logical, "error", err)
		return syscall.EIO
	}
	return 0
}

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags&unix.RENAME_EXCHANGE != 0 {
		// Metadata records track one path per file; an atomic swap has
		// no representation.
		return syscall.EINVAL
	}
	if isReserved(name) || isReserved(newName) {
		return syscall.EPERM
	}

	oldLogical := filepath.Join(n.logicalPath(), name)
	newLogical := "/" + filepath.Join(newParent.EmbeddedInode().Path(nil), newName)
	if n.mount.policy.Covers(oldLogical) || n.mount.policy.Covers(newLogical) {
		return syscall.EPERM
	}

	if errno := n.LoopbackNode.Rename(ctx, name, newParent, newName, flags); errno != 0 {
		return errno
	}
	if err := n.mount.engine.Rename(ctx, oldLogical, newLogical); err != nil {
		n.mount.logger.Error("rename metadata migration failed",
			"old_path", oldLogical, "new_path", newLogical, "error", err)
		return syscall.EIO
	}
	return 0
}

// Extended attributes live in the metadata store, not on the backing
// filesystem, so they survive backends without xattr support and follow
// renames through the same migration as checksums.

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, found, err := n.mount.store.Xattr(ctx, n.logicalPath(), attr)
	if err != nil {
		return 0, syscall.EIO
	}
	if !found {
		return 0, syscall.ENODATA
	}
	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if err := n.mount.store.SetXattr(ctx, n.logicalPath(), attr, data); err != nil {
		return syscall.EIO
	}
	return 0
}

func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	removed, err := n.mount.store.RemoveXattr(ctx, n.logicalPath(), attr)
	if err != nil {
		return syscall.EIO
	}
	if !removed {
		return syscall.ENODATA
	}
	return 0
}

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	keys, err := n.mount.store.ListXattrs(ctx, n.logicalPath())
	if err != nil {
		return 0, syscall.EIO
	}

	size := 0
	for _, key := range keys {
		size += len(key) + 1
	}
	if len(dest) == 0 {
		return uint32(size), 0
	}
	if len(dest) < size {
		return uint32(size), syscall.ERANGE
	}

	offset := 0
	for _, key := range keys {
		copy(dest[offset:], key)
		offset += len(key)
		dest[offset] = 0
		offset++
	}
	return uint32(size), 0
}

// preserveOwner chowns a freshly created file to the requesting caller
// when the daemon runs as root.
func (n *node) preserveOwner(ctx context.Context, path string) {
	if syscall.Getuid() != 0 {
		return
	}
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return
	}
	syscall.Lchown(path, int(caller.Uid), int(caller.Gid))
}

// idFromStat derives stable inode attributes, folding the backing
// device in so crossing mounts inside the tree cannot collide.
func idFromStat(rootDev uint64, st *syscall.Stat_t) gofuse.StableAttr {
	swapped := (uint64(st.Dev) << 32) | (uint64(st.Dev) >> 32)
	swappedRootDev := (rootDev << 32) | (rootDev >> 32)
	return gofuse.StableAttr{
		Mode: uint32(st.Mode),
		Gen:  1,
		Ino:  (swapped ^ swappedRootDev) ^ st.Ino,
	}
}
