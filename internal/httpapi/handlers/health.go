package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dopple/internal/httpkit"
	"dopple/internal/persona"
)

const checkTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also checks the store, the
// shared connections and provider credentials, in parallel.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "dopple",
		"version": h.version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

type checkResult = map[string]any

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]checkResult {
	var (
		mu     sync.Mutex
		checks = make(map[string]checkResult)
	)
	record := func(name string, fn func(context.Context) checkResult) func() error {
		return func() error {
			res := fn(ctx)
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		}
	}

	var g errgroup.Group
	g.Go(record("storage", h.checkStorage))
	if h.pool != nil {
		g.Go(record("postgres", h.checkPostgres))
	}
	if h.rdb != nil {
		g.Go(record("redis", h.checkRedis))
	}
	_ = g.Wait()

	checks["providers"] = h.checkProviders()
	return checks
}

func timed(ctx context.Context, result checkResult, fn func(context.Context) error) checkResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := fn(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkStorage(ctx context.Context) checkResult {
	result := checkResult{"status": "ok", "provider": h.store.Provider()}
	return timed(ctx, result, func(ctx context.Context) error {
		keys, err := h.store.List(ctx, persona.KeyPrefix)
		if err == nil {
			result["records"] = len(keys)
		}
		return err
	})
}

func (h *Handler) checkPostgres(ctx context.Context) checkResult {
	result := checkResult{"status": "ok"}
	return timed(ctx, result, func(ctx context.Context) error {
		if err := h.pool.Ping(ctx); err != nil {
			return err
		}
		stats := h.pool.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
		result["acquired_conns"] = stats.AcquiredConns()
		return nil
	})
}

func (h *Handler) checkRedis(ctx context.Context) checkResult {
	return timed(ctx, checkResult{"status": "ok"}, func(ctx context.Context) error {
		return h.rdb.Ping(ctx).Err()
	})
}

// checkProviders reports which adapters have credentials. A missing
// credential degrades the service without failing it outright.
func (h *Handler) checkProviders() checkResult {
	result := checkResult{"status": "ok"}
	configured := make(map[string]bool, len(h.providers))
	for _, p := range h.providers {
		configured[p.Name()] = p.Configured()
		if !p.Configured() {
			result["status"] = "degraded"
		}
	}
	result["configured"] = configured
	return result
}
