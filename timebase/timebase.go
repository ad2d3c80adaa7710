/*
Package timebase provides the node's monotonic clock (C9): a strictly
monotonic microsecond/millisecond source and a mutable Unix-epoch offset
settable from a trusted channel (e.g. NTP-backed onboarding, out of scope
here).

Built on github.com/jonboulle/clockwork's injectable Clock interface so
timer-driven state machines can be tested deterministically without
sleeping real wall-clock time.
*/
package timebase

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timebase is the node-wide monotonic clock and Unix-time offset holder.
//
// All durations measured by the engine (election windows, neighbor timeouts,
// CH beacon staleness, LED hysteresis) are taken against MonotonicMillis, not
// wall time, so that stepping or jumping the Unix offset never perturbs a
// running timer.
type Timebase struct {
	clock clockwork.Clock
	start time.Time // clock.Now() at construction; origin of the monotonic readings

	mu        sync.RWMutex
	epoch     time.Time // clock.Now() at the moment the offset was last set
	unixAtSet int64     // Unix seconds corresponding to epoch
}

// New returns a Timebase backed by the real system clock.
func New() *Timebase {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock returns a Timebase backed by an arbitrary clockwork.Clock,
// primarily so tests can drive time with clockwork.NewFakeClock().
func NewWithClock(c clockwork.Clock) *Timebase {
	now := c.Now()
	return &Timebase{
		clock:     c,
		start:     now,
		epoch:     now,
		unixAtSet: now.Unix(),
	}
}

// NowMonotonicMicros returns a strictly monotonic microsecond timestamp.
// It has no defined relationship to wall-clock time; only deltas between
// two calls are meaningful.
func (t *Timebase) NowMonotonicMicros() int64 {
	return t.clock.Now().Sub(t.start).Microseconds()
}

// NowMonotonicMillis returns a strictly monotonic millisecond timestamp.
func (t *Timebase) NowMonotonicMillis() int64 {
	return t.clock.Now().Sub(t.start).Milliseconds()
}

// SetUnixOffset sets the current Unix time as observed right now, establishing
// a new offset. Subsequent calls to NowUnix() return offset + elapsed
// monotonic seconds since this call.
func (t *Timebase) SetUnixOffset(unixSeconds int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = t.clock.Now()
	t.unixAtSet = unixSeconds
}

// NowUnix returns the current Unix time, derived from the last trusted offset
// plus monotonic seconds elapsed since it was set.
func (t *Timebase) NowUnix() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	elapsed := t.clock.Now().Sub(t.epoch)
	return t.unixAtSet + int64(elapsed.Seconds())
}

// Sleep blocks the calling goroutine for d, honoring the injected clock so
// fake-clock-driven tests never actually sleep.
func (t *Timebase) Sleep(d time.Duration) {
	t.clock.Sleep(d)
}

// After mirrors clockwork.Clock.After, for select-based tickers in the state
// machine and scheduler tasks.
func (t *Timebase) After(d time.Duration) <-chan time.Time {
	return t.clock.After(d)
}

// NewTicker mirrors clockwork.Clock.NewTicker.
func (t *Timebase) NewTicker(d time.Duration) clockwork.Ticker {
	return t.clock.NewTicker(d)
}

// Clock exposes the underlying clockwork.Clock for collaborators (e.g. the
// scheduler) that need to compute epoch_us relative to "now".
func (t *Timebase) Clock() clockwork.Clock {
	return t.clock
}
