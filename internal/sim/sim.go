// Package sim runs the dispatcher's executors in virtual time.
//
// Time only moves when every domain is idle: the driver jumps the counter to
// the armed alarm, fires it, and lets the woken domains run in priority
// order (interrupt line first, then core A, then core B). Runs are fully
// deterministic, so a multi-second scenario completes in milliseconds and
// repeats exactly.
package sim

import (
	"time"

	"twincore/internal/clock"
	"twincore/internal/dispatch"
	"twincore/internal/sched"
	"twincore/internal/status"
)

// Driver steps a dispatcher built over a manual counter.
type Driver struct {
	D       *dispatch.Dispatcher
	counter *clock.Manual

	// OnStep, if set, runs after every settled step with the current tick.
	OnStep func(now clock.Tick)

	started bool
}

// New builds the system described by cfg in virtual time.
func New(cfg sched.Config, out status.Emitter) (*Driver, error) {
	counter := clock.NewManual(0)
	d, err := dispatch.New(cfg, counter, out)
	if err != nil {
		return nil, err
	}
	return &Driver{D: d, counter: counter}, nil
}

// Now returns the virtual time.
func (s *Driver) Now() clock.Tick { return s.counter.Now() }

// Run advances virtual time by d. It may be called repeatedly.
func (s *Driver) Run(d time.Duration) error {
	if !s.started {
		if err := s.D.StartAll(); err != nil {
			return err
		}
		s.started = true
	}

	src := s.D.Clock()
	end := s.counter.Now().Add(d)
	for {
		s.settle()
		if s.OnStep != nil {
			s.OnStep(s.counter.Now())
		}

		next, ok := src.Armed()
		if !ok || end.Before(next) {
			s.counter.Set(end)
			return nil
		}
		s.counter.Set(next)
		src.Poll()
	}
}

// Stop releases the task goroutines.
func (s *Driver) Stop() {
	if s.started {
		s.D.Shutdown()
	}
}

// settle runs every woken domain until none has work left at the current
// instant.
func (s *Driver) settle() {
	for progressed := true; progressed; {
		progressed = false
		if s.D.Line().ServicePending() {
			progressed = true
		}
		if s.D.Exec0.PollIfWoken() {
			progressed = true
		}
		if s.D.Exec1.PollIfWoken() {
			progressed = true
		}
	}
}
