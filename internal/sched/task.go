package sched

import (
	"runtime"
	"time"

	"twincore/internal/clock"
)

// TaskID is the index of a task's slot in its executor's arena.
type TaskID uint16

// State is the scheduling state of a task.
type State int

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Task is one schedulable unit. Its body runs on its own goroutine but only
// between a resume and the next suspension, so at most one task of an
// executor executes at any time.
type Task struct {
	ID   TaskID
	Name string
	Run  func(co *Co) // body; production bodies never return

	state   State
	started bool
	done    bool

	resume chan struct{}
	yield  chan struct{}
	exited chan struct{}

	pending []clock.Tick // deadlines requested at the last suspension
	keys    []timerKey   // their entries in the executor's timer tree
	fired   int          // index into pending that woke the task
}

func (t *Task) init(id TaskID, name string, body func(*Co)) {
	*t = Task{
		ID:     id,
		Name:   name,
		Run:    body,
		state:  StateReady,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		exited: make(chan struct{}),
		fired:  -1,
	}
}

// State returns the task's scheduling state. Only meaningful from the
// owning executor's context.
func (t *Task) State() State { return t.state }

func (t *Task) main(co *Co) {
	defer close(t.exited)
	if _, ok := <-t.resume; !ok {
		return
	}
	t.Run(co)
	t.done = true
	t.yield <- struct{}{}
}

// Co is the handle a task body uses to reach its suspension points.
type Co struct {
	t   *Task
	src *clock.Source
}

// Name returns the task name.
func (c *Co) Name() string { return c.t.Name }

// Now reads the shared clock.
func (c *Co) Now() clock.Tick { return c.src.Now() }

// Sleep suspends the task for at least d.
func (c *Co) Sleep(d time.Duration) { c.WaitUntil(c.Now().Add(d)) }

// WaitUntil suspends the task until deadline.
func (c *Co) WaitUntil(deadline clock.Tick) { c.suspend(deadline) }

// WaitAny suspends until the first of deadlines is reached and returns its
// index. When several are due at resume time the lowest index wins.
func (c *Co) WaitAny(deadlines ...clock.Tick) int {
	if len(deadlines) == 0 {
		panic("sched: WaitAny without deadlines")
	}
	return c.suspend(deadlines...)
}

// Yield gives the other ready tasks of the executor a turn.
func (c *Co) Yield() { c.suspend(c.Now()) }

// suspend hands control back to the executor. When the executor shuts down
// instead of resuming, the task goroutine exits here.
func (c *Co) suspend(deadlines ...clock.Tick) int {
	t := c.t
	t.pending = append(t.pending[:0], deadlines...)
	t.yield <- struct{}{}
	if _, ok := <-t.resume; !ok {
		runtime.Goexit()
	}
	return t.fired
}
