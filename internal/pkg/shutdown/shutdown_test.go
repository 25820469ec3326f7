package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/logger"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"redis", "store", "worker"} {
		name := name
		mgr.RegisterSimple(name, func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	mgr.Shutdown()

	assert.Equal(t, []string{"worker", "store", "redis"}, order)
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var ran bool
	mgr.RegisterSimple("first", func() { ran = true })
	mgr.Register("failing", func(context.Context) error { return errors.New("close: broken pipe") })

	mgr.Shutdown()

	assert.True(t, ran, "hook after a failing one should run")
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	calls := 0
	mgr.RegisterSimple("count", func() { calls++ })

	mgr.Shutdown()
	mgr.Shutdown()

	assert.Equal(t, 1, calls)
	select {
	case <-mgr.Done():
	default:
		assert.Fail(t, "expected Done to be closed")
	}
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	mgr := NewManager(logger.Discard(), 20*time.Millisecond)

	skipped := true
	mgr.RegisterSimple("never", func() { skipped = false })
	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	mgr.Shutdown()

	assert.True(t, skipped, "hook after timeout should be skipped")
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finished := make(chan struct{})
	go func() {
		mgr.Wait(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		require.FailNow(t, "Wait did not return after context cancel")
	}
}
