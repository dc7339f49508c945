// Package clock provides an injectable time source so timers and
// deadlines throughout the core (Raft election timeouts, bus dispatch
// deadlines, WORM retention) are deterministic under test.
package clock

import "time"

// Clock is the capability every timer-driven component depends on instead
// of calling time.Now/time.Sleep directly.
type Clock interface {
	NowUTC() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so a fake clock can control tick delivery.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the production Clock backed by the real wall clock.
type System struct{}

// New returns the production Clock.
func New() Clock { return System{} }

func (System) NowUTC() time.Time { return time.Now().UTC() }

func (System) Sleep(d time.Duration) { time.Sleep(d) }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()                { s.t.Stop() }
