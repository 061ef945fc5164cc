// internal/clock/source.go

package clock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders wakers on an alarm fire. Lower values are more urgent,
// the way interrupt controllers number them.
type Priority uint8

// Thread is the priority of plain run-loops waiting in thread mode.
const Thread Priority = 255

// Waker is notified when the alarm fires. Wake must not block.
type Waker interface {
	Wake()
}

type attached struct {
	w    Waker
	prio Priority
}

// Source is the shared monotonic clock and alarm peripheral.
//
// Now is lock-free. The only mutable shared state is the alarm register,
// reached exclusively through Arm, Take and Disarm on Alarm.
type Source struct {
	counter Counter
	alarm   Alarm
	kick    chan struct{}
	fires   atomic.Uint64

	mu     sync.Mutex
	wakers []attached
}

// NewSource wraps a counter. The source is handed explicitly to every
// component that needs it.
func NewSource(c Counter) *Source {
	return &Source{
		counter: c,
		kick:    make(chan struct{}, 1),
	}
}

// Now returns the counter reading.
func (s *Source) Now() Tick { return s.counter.Now() }

// Arm schedules a fire at d unless an earlier deadline is armed.
func (s *Source) Arm(d Tick) bool {
	ok := s.alarm.Arm(d)
	if ok {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return ok
}

// Armed returns the deadline currently in the register.
func (s *Source) Armed() (Tick, bool) { return s.alarm.Load() }

// Fires returns the number of alarm fires so far.
func (s *Source) Fires() uint64 { return s.fires.Load() }

// Attach registers w to be woken on every fire. More urgent priorities are
// woken first; equal priorities keep attach order.
func (s *Source) Attach(w Waker, prio Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wakers = append(s.wakers, attached{w: w, prio: prio})
	sort.SliceStable(s.wakers, func(i, j int) bool {
		return s.wakers[i].prio < s.wakers[j].prio
	})
}

// Poll fires the alarm if its deadline has been reached. It reports whether
// a fire happened.
func (s *Source) Poll() bool {
	d, ok := s.alarm.Load()
	if !ok || !s.Now().Due(d) {
		return false
	}
	// lost the race to a writer that armed sooner; the caller polls again
	if !s.alarm.Take(d) {
		return false
	}
	s.fire()
	return true
}

func (s *Source) fire() {
	s.fires.Add(1)

	s.mu.Lock()
	ws := make([]attached, len(s.wakers))
	copy(ws, s.wakers)
	s.mu.Unlock()

	for _, a := range ws {
		a.w.Wake()
	}
}

// Run drives the peripheral in real time until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	stopTimer()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d, ok := s.alarm.Load()
		if !ok {
			select {
			case <-s.kick:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		now := s.Now()
		if now.Due(d) {
			s.Poll()
			continue
		}

		timer.Reset(d.Sub(now))
		select {
		case <-timer.C:
		case <-s.kick:
			stopTimer()
		case <-ctx.Done():
			stopTimer()
			return ctx.Err()
		}
	}
}
