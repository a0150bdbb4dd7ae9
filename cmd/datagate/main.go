package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mohammed-shakir/ocean-datagate/internal/app"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/config"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/server"
	"github.com/mohammed-shakir/ocean-datagate/internal/logger"
	"github.com/mohammed-shakir/ocean-datagate/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()
	if cfg.Version == "dev" {
		cfg.Version = Version
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Service:   "datagate",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts app.Options
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.Init(metrics.Config{Enabled: true, Path: cfg.Metrics.Path, Version: cfg.Version})
	}

	a, err := app.Build(ctx, cfg, appLog, opts)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()

	appLog.Info("starting datagate",
		"addr", cfg.Addr,
		"version", cfg.Version,
		"store", cfg.Store.Driver,
		"buckets", cfg.Buckets.Driver,
		"invalidation", cfg.Invalidation.Enabled,
		"audit", cfg.Audit.Enabled)

	a.Start(ctx)
	if err := server.Run(ctx, server.Config{Addr: cfg.Addr}, appLog, a.Handler); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	return 0
}
