// Package budget tracks the wall-clock allowance of one orchestrator pass.
//
// A Budget never cancels work. Callers ask Exhausted before starting a new
// step; anything already dispatched is allowed to finish.
package budget

import "time"

// Budget is a total allowance minus a safety margin reserved for the final
// writes of the pass.
type Budget struct {
	start  time.Time
	total  time.Duration
	margin time.Duration
	now    func() time.Time
	halt   <-chan struct{}
}

// New starts a budget at the current time.
func New(total, margin time.Duration) *Budget {
	return NewWithClock(total, margin, time.Now)
}

// NewWithClock starts a budget using now as its clock.
func NewWithClock(total, margin time.Duration, now func() time.Time) *Budget {
	if margin < 0 {
		margin = 0
	}
	return &Budget{start: now(), total: total, margin: margin, now: now}
}

func (b *Budget) Total() time.Duration { return b.total }

func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

// HaltOn makes the budget run out as soon as done is closed. Steps already
// dispatched still finish and are written.
func (b *Budget) HaltOn(done <-chan struct{}) { b.halt = done }

// Halted reports whether the channel given to HaltOn was closed.
func (b *Budget) Halted() bool {
	select {
	case <-b.halt:
		return true
	default:
		return false
	}
}

// Remaining is the time left before the safety margin, never negative.
func (b *Budget) Remaining() time.Duration {
	if b.Halted() {
		return 0
	}
	left := b.total - b.margin - b.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether no new step may start.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Fits reports whether a wait of d still leaves room for work.
func (b *Budget) Fits(d time.Duration) bool {
	return d < b.Remaining()
}
