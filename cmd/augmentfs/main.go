// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

// augmentfs mounts a backing directory through FUSE with content
// integrity verification. Every read is checked against checksums kept
// in a SQLite store inside the backing root; every write updates them.
// Subtrees listed as append-only reject truncation, deletion, and
// rename.
//
// Usage:
//
//	augmentfs [flags] BACKING_ROOT MOUNTPOINT
//
// Options follow mount(8) conventions:
//
//	augmentfs -o mode=file -o append_only_dirs=/logs,/audit /data /mnt/data
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Sohamkayal4103/AugmentFS/lib/augmentfs"
	"github.com/Sohamkayal4103/AugmentFS/lib/integrity"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var options []string
	var allowOther bool
	var debug bool
	var logLevel string

	flagSet := pflag.NewFlagSet("augmentfs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML configuration file")
	flagSet.StringArrayVarP(&options, "option", "o", nil, "mount option (key or key=value, repeatable)")
	flagSet.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	flagSet.BoolVar(&debug, "debug", false, "log every FUSE request")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default warn)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 2 {
		printHelp(flagSet)
		return fmt.Errorf("expected BACKING_ROOT and MOUNTPOINT, got %d arguments", len(args))
	}

	var cfg config
	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return err
		}
	}
	for _, option := range options {
		if err := applyMountOption(&cfg, option); err != nil {
			return err
		}
	}
	if allowOther {
		cfg.AllowOther = true
	}
	if debug {
		cfg.Debug = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	server, err := augmentfs.Mount(augmentfs.Options{
		BackingRoot:    args[0],
		Mountpoint:     args[1],
		Mode:           integrity.Mode(cfg.Mode),
		Algorithm:      cfg.Algorithm,
		AppendOnlyDirs: cfg.AppendOnlyDirs,
		PoolSize:       cfg.PoolSize,
		AllowOther:     cfg.AllowOther,
		Debug:          cfg.Debug,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed, filesystem may still be busy", "error", err)
		}
	}()

	server.Wait()
	return server.Close()
}

func parseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `augmentfs — FUSE passthrough filesystem with content integrity verification.

Usage:
  augmentfs [flags] BACKING_ROOT MOUNTPOINT

Checksums live in %s inside the backing root. Mount options (-o):
  mode=block|file          verification granularity (default block)
  algorithm=fnv1a|blake3   checksum algorithm for new records (default fnv1a)
  append_only_dirs=D1,D2   mount-relative prefixes that become append-only
  pool_size=N              metadata store connection pool size
  allow_other              allow other users to access the mount
  debug                    log every FUSE request

Flags:
%s`, ".metadata.db", flagSet.FlagUsages())
}
