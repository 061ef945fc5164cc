// internal/sched/executor.go

package sched

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/emirpasic/gods/queues/arrayqueue"
	"github.com/emirpasic/gods/trees/redblacktree"

	"twincore/internal/clock"
)

// Executor is a single-threaded cooperative run-loop.
//
// Its ready queue, timer tree and task arena are owned by whichever context
// runs the loop and are never touched from anywhere else. The only thing it
// shares is the clock.
type Executor struct {
	name string
	core *Core
	src  *clock.Source

	slots []Task             // fixed arena, len == capacity
	count int                // slots in use
	ready *arrayqueue.Queue  // FIFO of *Task
	timer *redblacktree.Tree // timerKey -> *Task, ordered by deadline then arrival
	seq   uint64             // arrival counter for timer keys
	gate  func()             // runs before each dispatch
	trace atomic.Pointer[func(Event)]

	wake    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// NewExecutor creates a cooperative executor bound to core with room for
// capacity tasks.
func NewExecutor(name string, core *Core, src *clock.Source, capacity int) (*Executor, error) {
	e, err := newExecutor(name, core, src, capacity)
	if err != nil {
		return nil, err
	}
	if err := core.bindCooperative(name); err != nil {
		return nil, err
	}
	e.gate = core.Checkpoint
	return e, nil
}

func newExecutor(name string, core *Core, src *clock.Source, capacity int) (*Executor, error) {
	if core == nil {
		return nil, fmt.Errorf("executor %s: nil core", name)
	}
	if src == nil {
		return nil, fmt.Errorf("executor %s: nil clock", name)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("executor %s: capacity must be > 0", name)
	}
	return &Executor{
		name:  name,
		core:  core,
		src:   src,
		slots: make([]Task, capacity),
		ready: arrayqueue.New(),
		timer: redblacktree.NewWith(cmp),
		wake:  make(chan struct{}, 1),
	}, nil
}

// Name returns the executor name.
func (e *Executor) Name() string { return e.name }

// Core returns the core the executor is bound to.
func (e *Executor) Core() *Core { return e.core }

// Capacity returns the number of task slots.
func (e *Executor) Capacity() int { return len(e.slots) }

// Len returns the number of spawned tasks.
func (e *Executor) Len() int { return e.count }

// Task returns the task in slot id.
func (e *Executor) Task(id TaskID) (*Task, bool) {
	if int(id) >= e.count {
		return nil, false
	}
	return &e.slots[id], true
}

// SetTrace installs fn to observe run-loop events. fn runs on the
// executor's context and must not block.
func (e *Executor) SetTrace(fn func(Event)) {
	if fn == nil {
		e.trace.Store(nil)
		return
	}
	e.trace.Store(&fn)
}

func (e *Executor) emit(kind EventKind, t *Task, deadline clock.Tick) {
	fn := e.trace.Load()
	if fn == nil {
		return
	}
	ev := Event{Tick: e.src.Now(), Kind: kind, Executor: e.name, Deadline: deadline}
	if t != nil {
		ev.TaskID = t.ID
		ev.Task = t.Name
	}
	(*fn)(ev)
}

// Wake signals the run-loop that the clock fired. It never blocks; a wake
// that arrives while the loop is busy is kept for its next wait.
func (e *Executor) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start attaches the executor to the clock and returns its spawner. Run
// calls it; the virtual-time driver calls it directly and then steps the
// executor with PollIfWoken.
func (e *Executor) Start() (*Spawner, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", e.name, ErrAlreadyStarted)
	}
	e.src.Attach(e, clock.Thread)
	e.Wake()
	return &Spawner{e: e, exclusive: func(fn func()) { fn() }}, nil
}

// Run starts the executor, lets spawn register the initial tasks and then
// loops forever. It only returns when ctx is done or spawn fails.
func (e *Executor) Run(ctx context.Context, spawn func(*Spawner) error) error {
	sp, err := e.Start()
	if err != nil {
		return err
	}
	if spawn != nil {
		if err := spawn(sp); err != nil {
			return err
		}
	}
	defer e.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		select {
		case <-e.wake:
			e.Poll()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PollIfWoken runs one pass if a wake is pending and reports whether it did.
func (e *Executor) PollIfWoken() bool {
	select {
	case <-e.wake:
		e.Poll()
		return true
	default:
		return false
	}
}

// Poll expires due timers, drives every ready task to its next suspension
// point and arms the clock for the earliest outstanding deadline. It
// returns that deadline.
//
// After arming, the deadline is checked against the clock again: a fire
// that happened between the expiry scan and the arm would otherwise go
// unnoticed until some unrelated wakeup.
func (e *Executor) Poll() (clock.Tick, bool) {
	if e.stopped.Load() {
		return 0, false
	}
	for {
		e.expire(e.src.Now())

		if e.ready.Empty() {
			next, ok := e.earliest()
			if !ok {
				e.emit(EventIdle, nil, 0)
				return 0, false
			}
			e.src.Arm(next)
			if e.src.Now().Due(next) {
				continue
			}
			e.emit(EventIdle, nil, next)
			return next, true
		}

		for !e.ready.Empty() {
			if e.gate != nil {
				e.gate()
			}
			v, _ := e.ready.Dequeue()
			e.dispatch(v.(*Task))
		}
	}
}

// Shutdown stops every parked task goroutine. Production executors never
// shut down; it exists so tests can release their tasks.
func (e *Executor) Shutdown() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < e.count; i++ {
		t := &e.slots[i]
		if !t.started {
			continue
		}
		if !t.done {
			close(t.resume)
		}
		<-t.exited
	}
}

func (e *Executor) spawn(name string, body func(*Co)) (TaskID, error) {
	if body == nil {
		return 0, &SpawnError{Executor: e.name, Task: name, Err: fmt.Errorf("nil body")}
	}
	if e.count >= len(e.slots) {
		return 0, &SpawnError{Executor: e.name, Task: name, Err: ErrCapacityExceeded}
	}

	id := TaskID(e.count)
	t := &e.slots[id]
	t.init(id, name, body)
	e.count++

	e.ready.Enqueue(t)
	e.emit(EventSpawn, t, 0)
	return id, nil
}

// dispatch resumes t until it suspends or returns.
func (e *Executor) dispatch(t *Task) {
	t.state = StateRunning
	e.emit(EventDispatch, t, 0)

	if !t.started {
		t.started = true
		go t.main(&Co{t: t, src: e.src})
	}
	t.resume <- struct{}{}
	<-t.yield

	if t.done {
		t.state = StateDone
		e.emit(EventFinish, t, 0)
		return
	}
	e.park(t)
}

// park registers every deadline the task suspended on.
func (e *Executor) park(t *Task) {
	t.state = StateWaiting
	t.fired = -1
	t.keys = t.keys[:0]

	earliest := t.pending[0]
	for _, d := range t.pending {
		k := timerKey{deadline: d, seq: e.seq}
		e.seq++
		e.timer.Put(k, t)
		t.keys = append(t.keys, k)
		if d.Before(earliest) {
			earliest = d
		}
	}
	e.emit(EventPark, t, earliest)
}

// expire moves every task with a deadline reached at now to the ready queue.
func (e *Executor) expire(now clock.Tick) {
	for {
		n := e.timer.Left()
		if n == nil {
			return
		}
		k := n.Key.(timerKey)
		if !now.Due(k.deadline) {
			return
		}
		e.requeue(n.Value.(*Task), now)
	}
}

// requeue takes t off the timer tree and queues it, recording which of its
// deadlines woke it.
func (e *Executor) requeue(t *Task, now clock.Tick) {
	for _, k := range t.keys {
		e.timer.Remove(k)
	}
	t.keys = t.keys[:0]

	t.fired = 0
	for i, d := range t.pending {
		if now.Due(d) {
			t.fired = i
			break
		}
	}

	t.state = StateReady
	e.ready.Enqueue(t)
	e.emit(EventWake, t, 0)
}

func (e *Executor) earliest() (clock.Tick, bool) {
	n := e.timer.Left()
	if n == nil {
		return 0, false
	}
	return n.Key.(timerKey).deadline, true
}

// Spawner places tasks into an executor's arena.
type Spawner struct {
	e         *Executor
	exclusive func(func())
	after     func()
}

// Spawn registers a task. Spawning past the arena's capacity fails with
// ErrCapacityExceeded.
func (s *Spawner) Spawn(name string, body func(*Co)) (TaskID, error) {
	var (
		id  TaskID
		err error
	)
	s.exclusive(func() { id, err = s.e.spawn(name, body) })
	if err == nil && s.after != nil {
		s.after()
	}
	return id, err
}

// timerKey is used as a key in the red-black tree.
type timerKey struct {
	deadline clock.Tick
	seq      uint64
}

// cmp orders timer keys by deadline, then by arrival.
func cmp(a, b any) int {
	ka, kb := a.(timerKey), b.(timerKey)
	switch {
	case ka.deadline.Before(kb.deadline):
		return -1
	case kb.deadline.Before(ka.deadline):
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
