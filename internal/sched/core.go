package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"twincore/internal/clock"
)

// CoreID identifies a physical core.
type CoreID uint8

// Core records which run-loops a physical core hosts: at most one
// cooperative executor and at most one interrupt executor.
type Core struct {
	ID   CoreID
	Name string

	mu          sync.Mutex
	cooperative string
	interrupt   string
	lines       []*Line
}

// NewCore describes a core with no run-loops bound yet.
func NewCore(id CoreID, name string) *Core {
	return &Core{ID: id, Name: name}
}

func (c *Core) bindCooperative(executor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooperative != "" {
		return fmt.Errorf("%s: cooperative %q: %w", c.Name, c.cooperative, ErrCoreBound)
	}
	c.cooperative = executor
	return nil
}

func (c *Core) bindInterrupt(executor string, l *Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupt != "" {
		return fmt.Errorf("%s: interrupt %q: %w", c.Name, c.interrupt, ErrCoreBound)
	}
	c.interrupt = executor
	c.lines = append(c.lines, l)
	return nil
}

// Checkpoint services the core's pending interrupts before thread-mode code
// continues. The cooperative executor calls it before every dispatch, which
// is where a hardware interrupt would take the core away from it.
func (c *Core) Checkpoint() {
	c.mu.Lock()
	lines := c.lines
	c.mu.Unlock()

	for _, l := range lines {
		l.ServicePending()
	}
}

// Line is a software-triggerable interrupt line.
//
// The handler never runs reentrantly: servicing holds the line's mask, and
// code that must not interleave with the handler runs under Mask. This is
// the only exclusion the interrupt executor has.
type Line struct {
	Name string

	prio     clock.Priority
	pending  atomic.Bool
	active   atomic.Bool
	serviced atomic.Uint64

	mask    sync.Mutex
	kick    chan struct{}
	handler func()
}

// NewLine creates an unbound line at the lowest interrupt priority.
func NewLine(name string) *Line {
	return &Line{
		Name: name,
		prio: clock.Thread - 1,
		kick: make(chan struct{}, 1),
	}
}

// SetPriority sets the line's priority. Call it before the line is bound.
func (l *Line) SetPriority(p clock.Priority) {
	if p >= clock.Thread {
		p = clock.Thread - 1
	}
	l.prio = p
}

// Priority returns the line's priority.
func (l *Line) Priority() clock.Priority { return l.prio }

func (l *Line) bind(h func()) error {
	l.mask.Lock()
	defer l.mask.Unlock()
	if l.handler != nil {
		return fmt.Errorf("%s: %w", l.Name, ErrLineBound)
	}
	l.handler = h
	return nil
}

// Pend asserts the line. It never blocks and is safe from any core.
func (l *Line) Pend() {
	l.pending.Store(true)
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Wake pends the line; it lets the line sit directly on the clock's fan-out.
func (l *Line) Wake() { l.Pend() }

// Busy reports whether the line is pending or its handler is running.
func (l *Line) Busy() bool { return l.pending.Load() || l.active.Load() }

// Serviced returns how many times the handler ran.
func (l *Line) Serviced() uint64 { return l.serviced.Load() }

// Mask runs fn with the line masked.
func (l *Line) Mask(fn func()) {
	l.mask.Lock()
	defer l.mask.Unlock()
	fn()
}

// ServicePending runs the handler until the line is no longer pending.
// It reports whether the handler ran.
func (l *Line) ServicePending() bool {
	if !l.pending.Load() {
		return false
	}

	l.mask.Lock()
	defer l.mask.Unlock()
	if l.handler == nil {
		return false
	}

	l.active.Store(true)
	ran := false
	for l.pending.Swap(false) {
		l.handler()
		l.serviced.Add(1)
		ran = true
	}
	l.active.Store(false)
	return ran
}

// Serve is the interrupt context: it services the line whenever it is
// pended, until ctx is done.
func (l *Line) Serve(ctx context.Context) error {
	for {
		select {
		case <-l.kick:
			l.ServicePending()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
