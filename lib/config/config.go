// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the authority
// daemon.
//
// Configuration is loaded from a single YAML file named by the
// --config flag or the POLKITD_CONFIG environment variable. When
// neither is set the daemon runs on built-in defaults: the authority
// must come up on an unconfigured system, so unlike most services
// there is no required config file. The file is the single source of
// truth once present; the only expansion performed is ${HOME}-style
// path variables for portability.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ikeydoherty/polkit-no-script/lib/identity"
)

// Config is the master configuration for the authority daemon.
type Config struct {
	// RuleDirs are the rule directories in precedence order; files in
	// earlier directories shadow same-named files in later ones.
	RuleDirs []string `yaml:"rule_dirs"`

	// ActionDirs are the action descriptor directories in precedence
	// order.
	ActionDirs []string `yaml:"action_dirs"`

	// SocketPath is the unix socket the daemon answers authorization
	// requests on.
	SocketPath string `yaml:"socket_path"`

	// PrivilegedGroup replaces the %wheel% token in rule files, so
	// shipped rules work on systems that call the administrative
	// group "wheel", "sudo", or anything else.
	PrivilegedGroup string `yaml:"privileged_group"`

	// DefaultAdmins lists administrator identities ("unix-user:root",
	// "unix-group:wheel") returned when no admin rule contributes any.
	DefaultAdmins []string `yaml:"default_admins"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Journal configures the authorization decision journal.
	Journal JournalConfig `yaml:"journal"`

	// Retained configures retention of successful authentications for
	// auth_self_keep / auth_admin_keep verdicts.
	Retained RetainedConfig `yaml:"retained"`

	// Watchdog configures the runaway-request killer.
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// JournalConfig configures the decision journal.
type JournalConfig struct {
	// Dir is where journal segments are written. Empty disables the
	// journal.
	Dir string `yaml:"dir"`

	// MaxSegmentBytes rotates the active segment once it grows past
	// this size.
	MaxSegmentBytes int64 `yaml:"max_segment_bytes"`

	// Compression selects the segment codec: none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// RetainedConfig configures the retained-authorization store.
type RetainedConfig struct {
	// TTL is how long a *_keep authentication stays valid, as a Go
	// duration string. "0" disables retention entirely.
	TTL string `yaml:"ttl"`

	// SweepInterval is how often expired entries are swept, as a Go
	// duration string.
	SweepInterval string `yaml:"sweep_interval"`
}

// WatchdogConfig configures the per-request liveness watchdog.
type WatchdogConfig struct {
	// Timeout is how long one authorization request may run before
	// the daemon kills itself so the service manager restarts a
	// healthy process. "0" disables the watchdog.
	Timeout string `yaml:"timeout"`
}

// Default returns the built-in configuration the daemon runs on when
// no config file is given. The rule and action paths are the fixed
// system locations; /etc entries take precedence over /usr/share so
// an administrator can shadow vendor files.
func Default() *Config {
	return &Config{
		RuleDirs: []string{
			"/etc/polkit-1/rules.d",
			"/usr/share/polkit-1/rules.d",
		},
		ActionDirs: []string{
			"/etc/polkit-1/actions.d",
			"/usr/share/polkit-1/actions.d",
		},
		SocketPath:      "/run/polkit/authority.sock",
		PrivilegedGroup: "wheel",
		DefaultAdmins:   []string{"unix-user:root"},
		LogLevel:        "info",
		Journal: JournalConfig{
			Dir:             "/var/log/polkit-1",
			MaxSegmentBytes: 4 * 1024 * 1024,
			Compression:     "zstd",
		},
		Retained: RetainedConfig{
			TTL:           "5m",
			SweepInterval: "30s",
		},
		Watchdog: WatchdogConfig{
			Timeout: "30s",
		},
	}
}

// Resolve loads configuration from flagPath when non-empty, else from
// the POLKITD_CONFIG environment variable, else returns Default().
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if envPath := os.Getenv("POLKITD_CONFIG"); envPath != "" {
		return LoadFile(envPath)
	}
	return Default(), nil
}

// LoadFile loads configuration from path, merging the file over the
// defaults. Path values may use ${VAR} and ${VAR:-default} expansion.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// every path-valued field.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	for i, dir := range c.RuleDirs {
		c.RuleDirs[i] = expandVars(dir, vars)
	}
	for i, dir := range c.ActionDirs {
		c.ActionDirs[i] = expandVars(dir, vars)
	}
	c.SocketPath = expandVars(c.SocketPath, vars)
	c.Journal.Dir = expandVars(c.Journal.Dir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// compressionNames are the accepted journal.compression keywords.
var compressionNames = []string{"none", "lz4", "zstd"}

// logLevels maps log_level keywords to slog levels.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Validate checks the configuration for errors. The parsed-value
// accessors (RetainedTTL, WatchdogTimeout, AdminIdentities, SlogLevel)
// assume Validate has passed.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RuleDirs) == 0 {
		errs = append(errs, fmt.Errorf("rule_dirs must list at least one directory"))
	}
	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}
	if c.PrivilegedGroup == "" {
		errs = append(errs, fmt.Errorf("privileged_group is required"))
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}

	if _, err := identity.ParseList(c.DefaultAdmins); err != nil {
		errs = append(errs, fmt.Errorf("default_admins: %w", err))
	}

	validCompression := false
	for _, name := range compressionNames {
		if c.Journal.Compression == name {
			validCompression = true
		}
	}
	if !validCompression {
		errs = append(errs, fmt.Errorf("journal.compression %q must be one of %v",
			c.Journal.Compression, compressionNames))
	}
	if c.Journal.Dir != "" && c.Journal.MaxSegmentBytes <= 0 {
		errs = append(errs, fmt.Errorf("journal.max_segment_bytes must be positive"))
	}

	if _, err := time.ParseDuration(c.Retained.TTL); err != nil {
		errs = append(errs, fmt.Errorf("retained.ttl: %w", err))
	}
	if _, err := time.ParseDuration(c.Retained.SweepInterval); err != nil {
		errs = append(errs, fmt.Errorf("retained.sweep_interval: %w", err))
	}
	if _, err := time.ParseDuration(c.Watchdog.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("watchdog.timeout: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RetainedTTL returns the parsed retained.ttl.
func (c *Config) RetainedTTL() time.Duration {
	d, _ := time.ParseDuration(c.Retained.TTL)
	return d
}

// SweepInterval returns the parsed retained.sweep_interval.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Retained.SweepInterval)
	return d
}

// WatchdogTimeout returns the parsed watchdog.timeout.
func (c *Config) WatchdogTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Watchdog.Timeout)
	return d
}

// AdminIdentities returns the parsed default_admins.
func (c *Config) AdminIdentities() []identity.Identity {
	ids, _ := identity.ParseList(c.DefaultAdmins)
	return ids
}

// SlogLevel returns the parsed log_level.
func (c *Config) SlogLevel() slog.Level {
	return logLevels[c.LogLevel]
}
