// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeema/threadhook/pkg/agent"
	"github.com/mbeema/threadhook/pkg/config"
	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		os.Exit(run(args))
	case "hook":
		os.Exit(hookCommand(args, os.Stdout, os.Stderr))
	case "version":
		printVersion(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  threadhook [run] [-config file | -config-dir dir] [-log-level level] [-enable] [-demo]")
	fmt.Fprintln(w, "  threadhook hook enable|disable|status [-control-dir dir]")
	fmt.Fprintln(w, "  threadhook version")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "threadhook %s (commit: %s, built: %s)\n", version, commit, buildDate)
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		configPath  string
		configDir   string
		logLevel    string
		enable      bool
		runDemo     bool
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "path to configuration file")
	fs.StringVar(&configDir, "config-dir", "", "path to config directory (multi-file mode with auto-reload)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&enable, "enable", false, "enable the thread hook at startup")
	fs.BoolVar(&runDemo, "demo", false, "spawn the demo threads once after startup")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		printVersion(os.Stdout)
		return 0
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configDir != "" {
		cfg, err = config.LoadDir(configDir)
	} else {
		cfg, err = loadConfig(configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Override from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if enable {
		cfg.Hook.Enabled = true
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting threadhook",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	agent.Version = version
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create agent", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start agent", zap.Error(err))
		a.Stop()
		return 1
	}

	if runDemo {
		if err := a.SpawnDemoThreads(); err != nil {
			logger.Warn("demo threads not started", zap.Error(err))
		}
	}

	// Start config directory watcher if --config-dir is set
	var watcher *config.Watcher
	if configDir != "" {
		watcher = config.NewWatcher(configDir, func(newCfg *config.Config, changedFile string) {
			if enable {
				newCfg.Hook.Enabled = true
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config",
					zap.String("file", changedFile),
					zap.Error(err),
				)
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Error("failed to start config watcher", zap.Error(err))
			a.Stop()
			return 1
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP for config reload (single-file mode)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			shutdownDone := make(chan struct{})
			go func() {
				if err := a.Stop(); err != nil {
					logger.Error("error during shutdown", zap.Error(err))
				}
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logger.Info("threadhook stopped")
				return 0
			case <-time.After(30 * time.Second):
				logger.Error("shutdown timed out after 30s, forcing exit")
				return 1
			}

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			var newCfg *config.Config
			var err error
			if configDir != "" {
				newCfg, err = config.LoadDir(configDir)
			} else {
				newCfg, err = loadConfig(configPath)
			}
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if enable {
				newCfg.Hook.Enabled = true
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			} else {
				logger.Info("configuration reloaded successfully")
			}
		}
	}
}

// hookCommand flips or reads the control file of a running agent.
func hookCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	action, args := args[0], args[1:]

	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	fs.SetOutput(stderr)
	controlDir := fs.String("control-dir", config.DefaultConfig().Hook.ControlDir, "agent control directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctl, err := hook.OpenControlFile(*controlDir)
	if err != nil {
		fmt.Fprintf(stderr, "no running agent with on-demand control: %v\n", err)
		return 1
	}
	defer ctl.Close()

	switch action {
	case "enable":
		err = ctl.Enable()
	case "disable":
		err = ctl.Disable()
	case "status":
	default:
		fmt.Fprintf(stderr, "unknown hook action %q\n", action)
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", action, err)
		return 1
	}

	st, err := ctl.State()
	if err != nil {
		fmt.Fprintf(stderr, "read state: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "thread hook %s\n", st)
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/threadhook.yaml",
		"/etc/threadhook/threadhook.yaml",
		"/etc/threadhook.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
