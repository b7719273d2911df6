// Copyright 2026 The AugmentFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// config is the mount configuration. Populated from a YAML file (the
// --config flag), then from -o mount options, then from direct flags;
// later sources win.
type config struct {
	Mode           string   `yaml:"mode"`
	Algorithm      string   `yaml:"algorithm"`
	AppendOnlyDirs []string `yaml:"append_only_dirs"`
	PoolSize       int      `yaml:"pool_size"`
	AllowOther     bool     `yaml:"allow_other"`
	Debug          bool     `yaml:"debug"`
	LogLevel       string   `yaml:"log_level"`
}

// loadConfigFile reads a YAML configuration file into cfg.
func loadConfigFile(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyMountOption applies one mount(8)-style option ("key" or
// "key=value") to cfg. Unknown options are an error rather than being
// silently ignored; a typo in append_only_dirs would otherwise disable
// the protection it asked for.
func applyMountOption(cfg *config, option string) error {
	key, value, hasValue := strings.Cut(option, "=")
	switch key {
	case "mode":
		if !hasValue {
			return fmt.Errorf("option %q requires a value", key)
		}
		cfg.Mode = value
	case "algorithm":
		if !hasValue {
			return fmt.Errorf("option %q requires a value", key)
		}
		cfg.Algorithm = value
	case "append_only_dirs":
		if !hasValue {
			return fmt.Errorf("option %q requires a value", key)
		}
		for _, dir := range strings.Split(value, ",") {
			dir = strings.TrimSpace(dir)
			if dir != "" {
				cfg.AppendOnlyDirs = append(cfg.AppendOnlyDirs, dir)
			}
		}
	case "pool_size":
		if !hasValue {
			return fmt.Errorf("option %q requires a value", key)
		}
		size, err := strconv.Atoi(value)
		if err != nil || size < 1 {
			return fmt.Errorf("option pool_size: %q is not a positive integer", value)
		}
		cfg.PoolSize = size
	case "allow_other":
		if hasValue {
			return fmt.Errorf("option %q takes no value", key)
		}
		cfg.AllowOther = true
	case "debug":
		if hasValue {
			return fmt.Errorf("option %q takes no value", key)
		}
		cfg.Debug = true
	case "ro", "rw", "dev", "nodev", "suid", "nosuid", "exec", "noexec":
		// Generic mount options passed through by mount(8); nothing to
		// configure.
	default:
		return fmt.Errorf("unknown mount option %q", key)
	}
	return nil
}
