// Package worker keeps personas moving without an external trigger: it runs
// a sweep pass on a fixed interval and a short pass for every batch of kicks
// popped from the queue.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"dopple/internal/pkg/logger"
	"dopple/internal/scheduler"
)

// Run blocks until ctx is cancelled.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")
	if d.SweepInterval <= 0 {
		d.SweepInterval = 15 * time.Minute
	}
	if d.PopTimeout <= 0 {
		d.PopTimeout = 30 * time.Second
	}
	if d.MaxKicks <= 0 {
		d.MaxKicks = 20
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweepLoop(gctx, d, log) })
	if d.Queue != nil {
		g.Go(func() error { return kickLoop(gctx, d, log) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		log.Info("worker stopped")
		return ctx.Err()
	}
	return err
}

func sweepLoop(ctx context.Context, d Deps, log *logger.Logger) error {
	ticker := time.NewTicker(d.SweepInterval)
	defer ticker.Stop()

	for {
		pass(ctx, d.Runner, scheduler.Request{Mode: scheduler.ModeSweep}, log)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func kickLoop(ctx context.Context, d Deps, log *logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		id, err := d.Queue.Pop(ctx, d.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("queue pop error, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if id == "" {
			continue
		}

		focus := []string{id}
		more, err := d.Queue.Drain(ctx, d.MaxKicks-1)
		if err != nil {
			log.WithError(err).Warn("queue drain error")
		}
		focus = append(focus, more...)

		pass(ctx, d.Runner, scheduler.Request{Mode: scheduler.ModeShort, Focus: focus}, log)
	}
}

func pass(ctx context.Context, r Runner, req scheduler.Request, log *logger.Logger) {
	start := time.Now()
	sum, err := r.Run(ctx, req)
	if err != nil {
		log.LogError(ctx, "pass failed", err, "mode", string(req.Mode))
		return
	}
	log.WithRunID(sum.RunID).WithFields(map[string]any{
		"mode":        string(req.Mode),
		"kicked":      len(req.Focus),
		"processed":   sum.Processed,
		"exhausted":   sum.BudgetExhausted,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("pass completed")
}
