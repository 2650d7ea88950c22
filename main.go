package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dirbrowse/config"
	"dirbrowse/logging"
)

// Version information, set at build time.
var (
	version   = "0.3.0"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	flags := pflag.NewFlagSet("dirbrowse", pflag.ContinueOnError)
	showVersion := flags.Bool("version", false, "show version information and exit")
	config.Flags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Printf("dirbrowse version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		return
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()
	logger := logging.L()

	srv, err := build(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("root", cfg.Host.Root),
			zap.Bool("write", cfg.Server.Write),
			zap.String("version", version))
		if err := srv.http.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
			}
		}
	}()

	<-sigChan
	logger.Info("shutting down, waiting for in-progress operations")
	if err := srv.Shutdown(); err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
