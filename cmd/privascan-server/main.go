package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gouthamgo/privascan/internal/api"
	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/output"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/gouthamgo/privascan/internal/recognize"
)

func main() {
	configPath := flag.String("config", "/etc/privascan/server.toml", "path to config file")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("privascan-server", api.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	slog.Info("starting privascan-server", "version", api.Version)

	profiles, err := config.NewProfileStore(cfg.Processing.ProfilesDirectory)
	if err != nil {
		slog.Warn("failed to load profiles from directory, using defaults",
			"dir", cfg.Processing.ProfilesDirectory, "error", err)
		profiles, _ = config.NewProfileStore("")
	}

	engine, err := recognize.New(cfg.Processing.OCR)
	if err != nil {
		slog.Error("failed to set up recognition engine", "error", err)
		os.Exit(1)
	}
	slog.Info("recognition engine ready", "engine", engine.Name())

	pipeline := processor.NewPipeline(engine, cfg.Processing)
	outputs := output.NewManager(cfg.Output)
	jobQueue := jobs.NewQueue(cfg.Processing.QueueSize)

	srv, err := api.NewServer(cfg, jobQueue, profiles, pipeline, outputs)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := <-errCh; err != nil {
		slog.Error("server error", "error", err)
	}
}

// setupLogging installs the default logger. The returned function closes the
// log file, if any.
func setupLogging(cfg config.LoggingConfig) (func(), error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return closeFn, err
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return closeFn, nil
}
