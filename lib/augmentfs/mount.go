// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package augmentfs exposes a backing directory tree through FUSE with
// content-integrity verification layered on every read and write.
// Directory and attribute operations pass through to the host
// filesystem; file I/O is routed through the integrity engine, and a
// configurable set of subtrees is append-only.
package augmentfs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/Sohamkayal4103/AugmentFS/lib/integrity"
	"github.com/Sohamkayal4103/AugmentFS/lib/metastore"
	"github.com/Sohamkayal4103/AugmentFS/lib/worm"
)

// Options configures the FUSE mount.
type Options struct {
	// BackingRoot is the directory tree being interposed on. Required.
	BackingRoot string

	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist. Required.
	Mountpoint string

	// Mode selects verification granularity: integrity.ModeBlock
	// (default) or integrity.ModeFile.
	Mode integrity.Mode

	// Algorithm names the checksum algorithm for new records.
	// Defaults to FNV-1a.
	Algorithm string

	// AppendOnlyDirs lists path prefixes (relative to the mount) that
	// are append-only: no truncate, unlink, rename, or
	// overwrite-from-zero.
	AppendOnlyDirs []string

	// PoolSize is the metadata store connection pool size. Zero uses
	// the store default.
	PoolSize int

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug enables FUSE request tracing.
	Debug bool

	// Logger receives diagnostic messages. If nil, errors go to
	// stderr.
	Logger *slog.Logger
}

// Server is a mounted filesystem together with its metadata store.
type Server struct {
	fuseServer *fuse.Server
	store      *metastore.Store
	logger     *slog.Logger
	mountpoint string
}

// mountState is the shared state every node and file handle hangs off.
type mountState struct {
	backingRoot string
	engine      *integrity.Engine
	store       *metastore.Store
	policy      *worm.Policy
	logger      *slog.Logger
}

// Mount opens the metadata store inside the backing root, builds the
// integrity engine, and mounts the filesystem. The caller must call
// Unmount, Wait, and Close on the returned Server when done.
func Mount(options Options) (*Server, error) {
	if options.BackingRoot == "" {
		return nil, fmt.Errorf("backing root is required")
	}
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	backingRoot := strings.TrimSuffix(options.BackingRoot, "/")
	if backingRoot == "" {
		backingRoot = "/"
	}
	info, err := os.Stat(backingRoot)
	if err != nil {
		return nil, fmt.Errorf("backing root %s: %w", backingRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("backing root %s is not a directory", backingRoot)
	}

	store, err := metastore.Open(metastore.Config{
		Path:     filepath.Join(backingRoot, metastore.DBFileName),
		PoolSize: options.PoolSize,
		Logger:   options.Logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := integrity.New(integrity.Config{
		Store:     store,
		Mode:      options.Mode,
		Algorithm: options.Algorithm,
		Logger:    options.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	var st syscall.Stat_t
	if err := syscall.Stat(backingRoot, &st); err != nil {
		store.Close()
		return nil, fmt.Errorf("stat backing root %s: %w", backingRoot, err)
	}

	state := &mountState{
		backingRoot: backingRoot,
		engine:      engine,
		store:       store,
		policy:      worm.New(options.AppendOnlyDirs),
		logger:      options.Logger,
	}

	root := &gofuse.LoopbackRoot{
		Path: backingRoot,
		Dev:  uint64(st.Dev),
	}
	root.NewNode = func(rootData *gofuse.LoopbackRoot, parent *gofuse.Inode, name string, st *syscall.Stat_t) gofuse.InodeEmbedder {
		return &node{
			LoopbackNode: gofuse.LoopbackNode{RootData: rootData},
			mount:        state,
		}
	}
	rootNode := &node{
		LoopbackNode: gofuse.LoopbackNode{RootData: root},
		mount:        state,
	}
	root.RootNode = rootNode

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, rootNode, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     backingRoot,
			Name:       "augmentfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("mounting at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("filesystem mounted",
		"mountpoint", options.Mountpoint,
		"backing_root", backingRoot,
		"mode", string(engine.Mode()),
	)

	return &Server{
		fuseServer: server,
		store:      store,
		logger:     options.Logger,
		mountpoint: options.Mountpoint,
	}, nil
}

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() {
	s.fuseServer.Wait()
}

// Unmount detaches the filesystem from the mountpoint.
func (s *Server) Unmount() error {
	if err := s.fuseServer.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", s.mountpoint, err)
	}
	return nil
}

// Close closes the metadata store. Call after Wait has returned.
func (s *Server) Close() error {
	return s.store.Close()
}
