package handlers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dopple/internal/pkg/logger"
	"dopple/internal/ports"
	"dopple/internal/scheduler"
)

// Runner executes one orchestrator pass.
type Runner interface {
	Run(ctx context.Context, req scheduler.Request) (*scheduler.Summary, error)
}

// Kicker enqueues a persona for a prompt short pass.
type Kicker interface {
	Push(ctx context.Context, id string) error
}

// Configurable is a provider adapter that can report missing credentials.
type Configurable interface {
	Name() string
	Configured() bool
}

type Deps struct {
	Store  ports.Store
	Runner Runner
	// Kicks, Pool, RDB and Providers are optional.
	Kicks     Kicker
	Pool      *pgxpool.Pool
	RDB       redis.UniversalClient
	Providers []Configurable
	Log       *logger.Logger
	Version   string
}

type Handler struct {
	store     ports.Store
	runner    Runner
	kicks     Kicker
	pool      *pgxpool.Pool
	rdb       redis.UniversalClient
	providers []Configurable
	log       *logger.Logger
	version   string
}

func New(d Deps) *Handler {
	h := &Handler{
		store:     d.Store,
		runner:    d.Runner,
		kicks:     d.Kicks,
		pool:      d.Pool,
		rdb:       d.RDB,
		providers: d.Providers,
		log:       d.Log,
		version:   d.Version,
	}
	if h.log == nil {
		h.log = logger.Discard()
	}
	if h.version == "" {
		h.version = "dev"
	}
	return h
}

// Log is the handler's logger, for routers wrapping error-returning handlers.
func (h *Handler) Log() *logger.Logger { return h.log }
