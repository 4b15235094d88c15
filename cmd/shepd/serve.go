package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/daemon"
	"github.com/loykin/shepd/internal/logger"
)

// runServe starts the daemon, optionally forking into the background
// first, and blocks until a signal or a client shutdown request.
func runServe(flags *ServeFlags, globalFlags *GlobalFlags, args []string) error {
	configPath := flags.ConfigPath
	if configPath == "" && len(args) > 0 {
		configPath = args[0]
	}

	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if globalFlags.Socket != "" {
		settings.SocketPath = globalFlags.Socket
	}

	if flags.Daemonize && !flags.Foreground {
		if err := daemonize(settings.PidFile, flags.LogFile); err != nil {
			return err
		}
		// Only the forked child reaches this point.
	}
	color := (flags.Foreground || !flags.Daemonize) && flags.LogFile == ""
	logger.Setup(os.Stderr, slog.LevelInfo, color)

	d, err := daemon.New(version, settings)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	if settings.PidFile != "" {
		if err := writePidFile(settings.PidFile, os.Getpid()); err != nil {
			slog.Warn("pid file write failed", "path", settings.PidFile, "error", err)
		}
		defer func() { _ = removePidFile(settings.PidFile) }()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Info("signal received", "signal", s.String())
	case <-d.ShutdownRequested():
		slog.Info("shutdown requested by client")
	}
	d.Shutdown()
	return nil
}
