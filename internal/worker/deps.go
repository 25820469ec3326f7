package worker

import (
	"context"
	"time"

	"dopple/internal/pkg/logger"
	"dopple/internal/scheduler"
)

// Runner executes one orchestrator pass.
type Runner interface {
	Run(ctx context.Context, req scheduler.Request) (*scheduler.Summary, error)
}

// Queue delivers kicked persona ids.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Drain(ctx context.Context, max int) ([]string, error)
}

type Deps struct {
	Runner Runner
	// Queue is optional; without it the worker only sweeps.
	Queue         Queue
	SweepInterval time.Duration
	PopTimeout    time.Duration
	// MaxKicks bounds how many kicked ids share one short pass.
	MaxKicks int
	Log      *logger.Logger
}
