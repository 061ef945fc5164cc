package sched

import (
	"fmt"
	"sync/atomic"

	"twincore/internal/clock"
)

// InterruptExecutor is an executor whose run-loop only executes while its
// interrupt line is being serviced. Each service drains every ready task
// before handing the core back, so its tasks take precedence over the
// cooperative executor of the same core.
type InterruptExecutor struct {
	*Executor
	line    *Line
	started atomic.Bool
}

// NewInterruptExecutor creates an interrupt executor for core with room for
// capacity tasks.
func NewInterruptExecutor(name string, core *Core, src *clock.Source, capacity int) (*InterruptExecutor, error) {
	e, err := newExecutor(name, core, src, capacity)
	if err != nil {
		return nil, err
	}
	return &InterruptExecutor{Executor: e}, nil
}

// Line returns the bound interrupt line, nil before Start.
func (ie *InterruptExecutor) Line() *Line { return ie.line }

// Start binds the executor to line and attaches the line to the clock at
// the line's priority. The returned spawner masks the line while it places
// a task and pends it afterwards, so new tasks run on the next service.
func (ie *InterruptExecutor) Start(line *Line) (*Spawner, error) {
	if line == nil {
		return nil, fmt.Errorf("%s: nil interrupt line", ie.name)
	}
	if !ie.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", ie.name, ErrAlreadyStarted)
	}
	if err := line.bind(ie.OnInterrupt); err != nil {
		return nil, err
	}
	if err := ie.core.bindInterrupt(ie.name, line); err != nil {
		return nil, err
	}
	ie.line = line
	ie.Executor.started.Store(true)
	ie.src.Attach(line, line.Priority())

	return &Spawner{e: ie.Executor, exclusive: line.Mask, after: line.Pend}, nil
}

// OnInterrupt is the line handler: one full pass of the run-loop.
func (ie *InterruptExecutor) OnInterrupt() {
	ie.Poll()
}

// Shutdown stops the executor's tasks with its line masked.
func (ie *InterruptExecutor) Shutdown() {
	if ie.line == nil {
		ie.Executor.Shutdown()
		return
	}
	ie.line.Mask(ie.Executor.Shutdown)
}
