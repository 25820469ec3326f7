package main

import (
	"context"
	"flag"

	"dopple/internal/app"
	"dopple/internal/config"
	"dopple/internal/pkg/logger"
	"dopple/internal/pkg/shutdown"
	"dopple/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (default $CONFIG_FILE)")
	flag.Parse()

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = config.Env("SERVICE_NAME", "dopple-worker")
	log := logger.New(logCfg)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout.Std())
	ctx, stop := shutdownMgr.SignalContext(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}
	a.Register(shutdownMgr)

	deps := worker.Deps{
		Runner:        a.Scheduler,
		SweepInterval: cfg.Worker.SweepInterval.Std(),
		PopTimeout:    cfg.Worker.PopTimeout.Std(),
		Log:           log,
	}
	if a.Kicks != nil {
		deps.Queue = a.Kicks
	} else {
		log.Warn("REDIS_ADDR not set; kicks disabled, sweeping only")
	}

	log.Info("dopple worker started",
		"sweep_interval", cfg.Worker.SweepInterval.Std().String(),
		"kick_queue", cfg.Worker.KickQueue,
	)
	if err := worker.Run(ctx, deps); err != nil && ctx.Err() == nil {
		log.LogError(ctx, "worker stopped unexpectedly", err)
	}
	shutdownMgr.Shutdown()
}
