package sched

import (
	"time"

	"twincore/internal/clock"
)

// Ticker is a phase-locked periodic deadline generator. Each deadline is the
// previous scheduled deadline plus the period, never the time the task
// happened to resume, so scheduling jitter does not accumulate.
type Ticker struct {
	co     *Co
	period clock.Tick
	next   clock.Tick
}

// Every starts a ticker whose first deadline is one period from now.
// Periods shorter than one tick are rounded up to one tick.
func (c *Co) Every(period time.Duration) *Ticker {
	p := clock.Ticks(period)
	if p == 0 {
		p = 1
	}
	return &Ticker{co: c, period: p, next: c.Now() + p}
}

// Period returns the ticker period.
func (t *Ticker) Period() time.Duration {
	return time.Duration(t.period) * time.Microsecond
}

// Deadline returns the next scheduled deadline.
func (t *Ticker) Deadline() clock.Tick { return t.next }

// Next suspends until the next deadline.
func (t *Ticker) Next() {
	t.co.WaitUntil(t.next)
	t.advance()
}

// Reset restarts the sequence one period from now.
func (t *Ticker) Reset() { t.next = t.co.Now() + t.period }

func (t *Ticker) advance() { t.next += t.period }

// Race waits on several tickers and returns the index of the one that fired.
// Only the winner advances; the others keep their deadlines.
func (c *Co) Race(tickers ...*Ticker) int {
	var buf [4]clock.Tick
	deadlines := buf[:0]
	for _, t := range tickers {
		deadlines = append(deadlines, t.next)
	}
	i := c.WaitAny(deadlines...)
	tickers[i].advance()
	return i
}
