package sched

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("task slots exhausted")
	ErrCoreBound        = errors.New("core already hosts a run-loop of this kind")
	ErrLineBound        = errors.New("interrupt line already bound")
	ErrAlreadyStarted   = errors.New("executor already started")
)

// SpawnError reports a task that could not be placed in an executor.
type SpawnError struct {
	Executor string
	Task     string
	Err      error
}

func (e *SpawnError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("spawn %q on %s: %v", e.Task, e.Executor, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
