package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mqlbt/internal/api"
	"mqlbt/internal/config"
	"mqlbt/internal/store"
	"mqlbt/internal/strategy"
	"mqlbt/internal/strategy/builtins"
	"mqlbt/internal/util"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("MQLBT_CONFIG"), "path to the YAML config (default: $MQLBT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	for _, dir := range []string{cfg.Storage.DataDir, filepath.Dir(cfg.Storage.SQLitePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("creating %s: %v", dir, err)
		}
	}
	candles := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	reg := strategy.NewRegistry()
	builtins.Register(reg)

	svc := api.NewService(api.Options{
		Registry:     reg,
		Candles:      candles,
		Runs:         runs,
		Defaults:     cfg.Backtest,
		SweepWorkers: cfg.Sweep.Workers,
		MaxSweepJobs: cfg.Sweep.MaxJobs,
		Logger:       logger,
	})
	srv := api.NewServer(svc, api.ServerOptions{
		HTTPAddr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		GRPCAddr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)),
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		Logger:          logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("mqlbt-server starting",
		"strategies", fmt.Sprint(reg.List()),
		"dataDir", cfg.Storage.DataDir,
		"sqlite", cfg.Storage.SQLitePath,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("mqlbt-server stopped")
}
