// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Polkitd is the authorization authority daemon. It compiles the
// keyfile rule directories into a policy chain, loads the action
// descriptor registry, and answers authorization requests over a unix
// socket.
//
// On startup:
//  1. Loads configuration (file named by --config or POLKITD_CONFIG,
//     built-in defaults otherwise), with flags overriding file values.
//  2. Compiles the rule chain and the action registry. Both load
//     fail-soft: broken files are logged and skipped, never fatal.
//  3. Opens the decision journal when configured.
//  4. Starts the rule directory watcher so edits apply without a
//     restart, and listens for SIGHUP as the manual reload path.
//  5. Serves authorization requests on the socket until SIGINT or
//     SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ikeydoherty/polkit-no-script/lib/action"
	"github.com/ikeydoherty/polkit-no-script/lib/authority"
	"github.com/ikeydoherty/polkit-no-script/lib/clock"
	"github.com/ikeydoherty/polkit-no-script/lib/config"
	"github.com/ikeydoherty/polkit-no-script/lib/identity"
	"github.com/ikeydoherty/polkit-no-script/lib/journal"
	"github.com/ikeydoherty/polkit-no-script/lib/tempauth"
	"github.com/ikeydoherty/polkit-no-script/lib/version"
	"github.com/ikeydoherty/polkit-no-script/lib/watchdog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		ruleDirs   []string
		actionDirs []string
		socketPath string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("polkitd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the daemon configuration file")
	flagSet.StringArrayVar(&ruleDirs, "rules-dir", nil, "rule directory in precedence order (repeatable, overrides the config file)")
	flagSet.StringArrayVar(&actionDirs, "actions-dir", nil, "action descriptor directory in precedence order (repeatable, overrides the config file)")
	flagSet.StringVar(&socketPath, "socket", "", "unix socket to answer authorization requests on (overrides the config file)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the config file)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("polkitd")
		return nil
	}

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

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if len(ruleDirs) > 0 {
		cfg.RuleDirs = ruleDirs
	}
	if len(actionDirs) > 0 {
		cfg.ActionDirs = actionDirs
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth := authority.New(authority.Options{
		RuleDirs:        cfg.RuleDirs,
		PrivilegedGroup: cfg.PrivilegedGroup,
		DefaultAdmins:   cfg.AdminIdentities(),
		Logger:          logger,
	})
	registry := action.NewRegistry(cfg.ActionDirs, logger)

	retained := tempauth.New(cfg.RetainedTTL(), clock.Real())
	if retained.Enabled() {
		go retained.Sweep(ctx, cfg.SweepInterval())
	}

	var journalWriter *journal.Writer
	if cfg.Journal.Dir != "" {
		compression, err := journal.ParseCompression(cfg.Journal.Compression)
		if err != nil {
			return fmt.Errorf("journal configuration: %w", err)
		}
		journalWriter, err = journal.Open(journal.Options{
			Dir:             cfg.Journal.Dir,
			MaxSegmentBytes: cfg.Journal.MaxSegmentBytes,
			Compression:     compression,
		})
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer journalWriter.Close()
		logger.Info("journal open",
			"dir", cfg.Journal.Dir,
			"segment", journalWriter.CurrentSegment(),
		)
	}

	daemon := &Daemon{
		auth:       auth,
		registry:   registry,
		retained:   retained,
		journal:    journalWriter,
		watchdog:   watchdog.New(watchdog.Options{Timeout: cfg.WatchdogTimeout(), Logger: logger}),
		directory:  identity.UnixDirectory{},
		socketPath: cfg.SocketPath,
		logger:     logger,
	}

	// The watcher is best-effort: when inotify is unavailable the chain
	// still reloads on SIGHUP and wire reload requests.
	if err := auth.Watch(ctx); err != nil {
		logger.Warn("rule directory watch unavailable", "error", err)
	}

	if err := daemon.startListener(ctx); err != nil {
		return fmt.Errorf("starting authority listener: %w", err)
	}
	defer daemon.stopListener()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("reload requested")
				daemon.reload()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Authorization authority daemon.

Polkitd compiles the keyfile rules under the configured rule
directories into an ordered policy chain and answers authorization
requests on a unix socket. Rule edits apply immediately via the
directory watcher; SIGHUP forces a reload and rotates the decision
journal.

Usage:
  polkitd [flags]

Examples:
  # Run on the built-in defaults
  polkitd

  # Run against a staging policy tree on a private socket
  polkitd --rules-dir ./stage/rules.d --socket /tmp/polkit-stage.sock

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
