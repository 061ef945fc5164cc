package status

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"twincore/internal/clock"
)

// Stall describes a task that stopped emitting status records.
type Stall struct {
	Task   string
	Core   string
	Last   clock.Tick // last emission, or the watch start
	Missed int        // whole logging periods elapsed since Last
}

type watched struct {
	core   string
	period clock.Tick
	last   clock.Tick
}

// Watchdog tracks the liveness of tasks by their status records. A task
// stalls once more than Tolerance logging periods pass without a record.
type Watchdog struct {
	Tolerance int

	mu    sync.Mutex
	tasks map[string]*watched
}

// NewWatchdog creates a watchdog allowing tolerance silent periods.
func NewWatchdog(tolerance int) *Watchdog {
	if tolerance <= 0 {
		tolerance = 2
	}
	return &Watchdog{Tolerance: tolerance, tasks: make(map[string]*watched)}
}

// Expect starts watching task, which should emit once per period from start.
func (w *Watchdog) Expect(task, core string, period time.Duration, start clock.Tick) {
	p := clock.Ticks(period)
	if p == 0 {
		p = 1
	}
	w.mu.Lock()
	w.tasks[task] = &watched{core: core, period: p, last: start}
	w.mu.Unlock()
}

// Observe records a status emission.
func (w *Watchdog) Observe(r Record) {
	if r.Kind != KindStatus {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tasks[r.Task]; ok && t.last.Before(r.Tick) {
		t.last = r.Tick
	}
}

// Emit lets the watchdog sit directly behind an emitter.
func (w *Watchdog) Emit(r Record) { w.Observe(r) }

// Check returns every stalled task at now, ordered by name.
func (w *Watchdog) Check(now clock.Tick) []Stall {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := maps.Keys(w.tasks)
	sort.Strings(names)

	var out []Stall
	for _, name := range names {
		t := w.tasks[name]
		if !t.last.Before(now) {
			continue
		}
		missed := int((now - t.last) / t.period)
		if missed > w.Tolerance {
			out = append(out, Stall{Task: name, Core: t.core, Last: t.last, Missed: missed})
		}
	}
	return out
}

// Tee fans records out to several emitters.
type Tee []Emitter

// Emit forwards r to every emitter in order.
func (t Tee) Emit(r Record) {
	for _, e := range t {
		e.Emit(r)
	}
}
