package pipeline

import (
	"context"
	"time"

	"dopple/internal/budget"
	"dopple/internal/pkg/errors"
)

// RetryPolicy bounds in-pass retries of transient provider errors.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// delay returns the wait before the attempt after the given one. A
// provider Retry-After hint wins over the exponential schedule but is still
// capped at MaxDelay.
func (p RetryPolicy) delay(attempt int, err error) time.Duration {
	if hint := errors.GetRetryAfter(err); hint > 0 {
		return min(hint, p.MaxDelay)
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// call runs fn, retrying transient errors while attempts remain and the
// wait still fits the budget.
func (m *Machine) call(ctx context.Context, b *budget.Budget, fn func(context.Context) (string, error)) (string, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !errors.IsTransient(err) || attempt >= m.retry.Attempts {
			return v, err
		}
		wait := m.retry.delay(attempt, err)
		if !b.Fits(wait) {
			return v, err
		}
		m.log.FromContext(ctx).WithError(err).Debug("retrying provider call", "attempt", attempt+1, "wait", wait.String())
		if serr := m.sleep(ctx, wait); serr != nil {
			return v, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
