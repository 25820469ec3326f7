package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestBudget(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewWithClock(25*time.Second, 5*time.Second, c.now)

	assert.Equal(t, 20*time.Second, b.Remaining())
	assert.False(t, b.Exhausted())
	assert.True(t, b.Fits(10*time.Second))

	c.t = c.t.Add(19 * time.Second)
	assert.Equal(t, time.Second, b.Remaining())
	assert.False(t, b.Fits(2*time.Second))

	c.t = c.t.Add(time.Second)
	assert.True(t, b.Exhausted())
	assert.Equal(t, time.Duration(0), b.Remaining())

	c.t = c.t.Add(time.Hour)
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.Equal(t, time.Hour+20*time.Second, b.Elapsed())
}

func TestNegativeMarginIsIgnored(t *testing.T) {
	b := New(time.Minute, -time.Second)
	assert.LessOrEqual(t, b.Remaining(), time.Minute)
	assert.Greater(t, b.Remaining(), 59*time.Second)
}

func TestHaltOnStopsNewSteps(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewWithClock(time.Minute, 5*time.Second, c.now)
	done := make(chan struct{})
	b.HaltOn(done)

	assert.False(t, b.Halted())
	assert.Equal(t, 55*time.Second, b.Remaining())

	close(done)
	assert.True(t, b.Halted())
	assert.True(t, b.Exhausted())
	assert.False(t, b.Fits(time.Millisecond))
	assert.Equal(t, time.Duration(0), b.Elapsed())
}
