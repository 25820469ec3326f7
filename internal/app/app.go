// Package app wires the configured store, providers and orchestrator
// components shared by the api, worker and dopplectl binaries.
package app

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dopple/internal/config"
	"dopple/internal/httpapi/handlers"
	"dopple/internal/notifications"
	"dopple/internal/pipeline"
	"dopple/internal/pkg/errors"
	"dopple/internal/pkg/logger"
	"dopple/internal/pkg/shutdown"
	"dopple/internal/poller"
	"dopple/internal/ports"
	"dopple/internal/providers/elevenlabs"
	"dopple/internal/providers/fake"
	"dopple/internal/providers/heygen"
	"dopple/internal/providers/openai"
	"dopple/internal/reconcile"
	"dopple/internal/scheduler"
	"dopple/internal/storage"
	"dopple/internal/worker/queue"
)

type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     ports.Store
	Writer    *reconcile.Writer
	Scheduler *scheduler.Scheduler
	// Pool, Redis and Kicks are nil when not configured.
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Kicks     *queue.RedisQueue
	Providers []handlers.Configurable

	hooks []shutdown.Hook
}

// New connects the shared clients and builds the orchestrator. On error the
// resources opened so far are released.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (a *App, err error) {
	a = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close(ctx)
			a = nil
		}
	}()

	if cfg.Store.DatabaseURL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return a, errors.Wrap(err, "app.postgres", "failed to connect to PostgreSQL")
		}
		a.onClose("postgres", func(context.Context) error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return a, errors.WrapWithCode(err, errors.CodeUnavailable, "app.postgres", "failed to ping PostgreSQL")
		}
		a.Pool = pool
		log.Info("PostgreSQL connected")
	}

	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose("redis", func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return a, errors.WrapWithCode(err, errors.CodeUnavailable, "app.redis", "failed to ping Redis")
		}
		a.Redis = rdb
		a.Kicks = queue.NewRedisQueue(rdb, cfg.Worker.KickQueue)
		log.Info("Redis connected")
	}

	st, closeStore, err := storage.Open(ctx, cfg.Store, storage.Clients{Redis: a.Redis, Postgres: a.Pool})
	if err != nil {
		return a, errors.Wrap(err, "app.storage", "failed to initialize storage provider")
	}
	a.onClose("storage", func(context.Context) error { return closeStore() })
	a.Store = st
	log.Info("storage provider initialized", "provider", st.Provider())

	likeness, voices, agents := a.providers()
	a.Writer = reconcile.New(st, notifications.New(cfg.Notifications), log)

	machine := pipeline.New(pipeline.Deps{
		Store:        st,
		Writer:       a.Writer,
		Likeness:     likeness,
		Voices:       voices,
		Agents:       agents,
		DefaultVoice: cfg.Providers.DefaultVoice,
		Retry: pipeline.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay.Std(),
			MaxDelay:  cfg.Retry.MaxDelay.Std(),
		},
		Log: log,
	})

	pl, err := poller.New(likeness, poller.Config{
		MaxConcurrency: cfg.Poll.MaxConcurrency,
		MaxPolls:       cfg.Poll.MaxPolls,
		MaxAge:         cfg.Poll.MaxAge.Std(),
	}, log)
	if err != nil {
		return a, err
	}
	a.onClose("poller", func(context.Context) error { return pl.Close() })

	a.Scheduler = scheduler.New(scheduler.Deps{
		Store:   st,
		Writer:  a.Writer,
		Machine: machine,
		Poller:  pl,
		Config: scheduler.Config{
			ShortBudget:   cfg.Scheduler.ShortBudget.Std(),
			SweepBudget:   cfg.Scheduler.SweepBudget.Std(),
			SafetyMargin:  cfg.Scheduler.SafetyMargin.Std(),
			MaxCandidates: cfg.Scheduler.MaxCandidates,
		},
		Log: log,
	})
	return a, nil
}

func (a *App) providers() (ports.LikenessProvider, ports.VoiceCloner, ports.AgentComposer) {
	cfg := a.Config.Providers
	httpClient := &http.Client{Timeout: cfg.RequestTimeout.Std()}

	voices := elevenlabs.New(elevenlabs.Config{
		APIKey:  cfg.ElevenLabs.APIKey,
		APIBase: cfg.ElevenLabs.APIBase,
	}, httpClient)
	agents := openai.New(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		APIBase: cfg.OpenAI.APIBase,
		Model:   cfg.OpenAI.Model,
	}, httpClient)
	a.Providers = append(a.Providers, voices, agents)

	if cfg.Likeness == "fake" {
		a.Log.Warn("using the fake likeness provider; no clip will be rendered")
		f := fake.NewLikeness()
		f.AutoComplete = true
		return f, voices, agents
	}

	hg := heygen.New(heygen.Config{
		APIKey:     cfg.HeyGen.APIKey,
		APIBase:    cfg.HeyGen.APIBase,
		UploadBase: cfg.HeyGen.UploadBase,
		Width:      cfg.HeyGen.Width,
		Height:     cfg.HeyGen.Height,
	}, httpClient)
	if !hg.Configured() {
		a.Log.Warn("HEYGEN_API_KEY not set; personas will wait until it is")
	}
	a.Providers = append([]handlers.Configurable{hg}, a.Providers...)
	return hg, voices, agents
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.hooks = append(a.hooks, shutdown.Hook{Name: name, Cleanup: fn})
}

// Register hands every cleanup to m, in opening order, so m closes them in
// reverse.
func (a *App) Register(m *shutdown.Manager) {
	for _, h := range a.hooks {
		m.Register(h.Name, h.Cleanup)
	}
}

// Close releases everything New opened, last first. For short-lived
// commands without a shutdown manager.
func (a *App) Close(ctx context.Context) {
	for i := len(a.hooks) - 1; i >= 0; i-- {
		h := a.hooks[i]
		if err := h.Cleanup(ctx); err != nil {
			a.Log.WithError(err).Warn("cleanup failed", "name", h.Name)
		}
	}
	a.hooks = nil
}
