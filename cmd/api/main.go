package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"dopple/internal/app"
	"dopple/internal/config"
	"dopple/internal/httpapi"
	"dopple/internal/httpapi/handlers"
	"dopple/internal/pkg/logger"
	"dopple/internal/pkg/shutdown"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (default $CONFIG_FILE)")
	flag.Parse()

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = config.Env("SERVICE_NAME", "dopple-api")
	log := logger.New(logCfg)

	log.Info("starting dopple API", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout.Std())

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}
	a.Register(shutdownMgr)

	deps := httpapi.Deps{
		Deps: handlers.Deps{
			Store:     a.Store,
			Runner:    a.Scheduler,
			Pool:      a.Pool,
			Providers: a.Providers,
			Log:       log,
			Version:   version,
		},
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
	}
	if a.Redis != nil {
		deps.RDB = a.Redis
		deps.Kicks = a.Kicks
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:        "0.0.0.0" + cfg.Addr(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// A sweep pass answers only when its budget is spent.
		WriteTimeout: cfg.Scheduler.SweepBudget.Std() + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(ctx)
}
