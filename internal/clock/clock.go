// Package clock provides the single monotonic time source (C1) used by
// every timing-sensitive component, so tests can inject a fake clock
// instead of depending on wall-clock time.
package clock

import "time"

// Clock is the minimal time source the rest of the engine depends on.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
	// NowMillis returns the current instant as Unix milliseconds, used for
	// the wall-clock serverTime carried in timer_tick for client-side drift
	// measurement only (never for scheduling decisions).
	NowMillis() int64
	// After returns a channel that fires once d has elapsed, mirroring
	// time.After so schedulers can select on it directly.
	After(d time.Duration) <-chan time.Time
	// NewTimer mirrors time.NewTimer so callers can Stop/Reset it.
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of *time.Timer the schedulers need.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// System is the production Clock backed by the real wall clock.
type System struct{}

// New returns the production system clock.
func New() Clock { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) NowMillis() int64 { return time.Now().UnixMilli() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (System) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time        { return s.t.C }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
