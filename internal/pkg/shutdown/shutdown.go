// Package shutdown coordinates graceful teardown of the API and worker
// processes. Cleanup hooks run one at a time, last registered first, so a
// pass in flight finishes before the store and queue it uses are closed.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dopple/internal/pkg/logger"
)

// Manager runs registered cleanup hooks on signal or explicit Shutdown.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []Hook

	once sync.Once
	done chan struct{}
}

// Hook is a named cleanup step.
type Hook struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager returns a Manager whose hooks share one timeout (default 30s).
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{log: log, timeout: timeout, done: make(chan struct{})}
}

func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown hook", "name", name)
}

// RegisterSimple registers a hook that cannot fail.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// SignalContext returns a context canceled on SIGINT, SIGTERM or SIGHUP.
// Long-running loops select on it; the caller then invokes Shutdown.
func (m *Manager) SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// Wait blocks until a shutdown signal arrives or ctx ends, then shuts down.
func (m *Manager) Wait(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		m.log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		m.log.Info("context canceled, initiating shutdown")
	}
	m.Shutdown()
}

// Shutdown runs hooks in reverse registration order. Only the first call
// has an effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		defer close(m.done)

		m.mu.Lock()
		hooks := append([]Hook(nil), m.hooks...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.log.Info("starting graceful shutdown", "hooks", len(hooks), "timeout", m.timeout.String())

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if ctx.Err() != nil {
				m.log.Warn("shutdown timeout exceeded, skipping remaining hooks", "next", h.Name)
				return
			}
			start := time.Now()
			if err := h.Cleanup(ctx); err != nil {
				m.log.Error("shutdown hook failed",
					"name", h.Name,
					"error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				continue
			}
			m.log.Debug("shutdown hook completed", "name", h.Name, "duration_ms", time.Since(start).Milliseconds())
		}
		m.log.Info("graceful shutdown completed")
	})
}

// Done is closed once Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
