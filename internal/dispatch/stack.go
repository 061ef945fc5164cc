package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrSecondCoreStart reports that the second core could not be brought up.
var ErrSecondCoreStart = errors.New("second core failed to start")

// MinStackSize is the smallest region the second core accepts.
const MinStackSize = 256

// Stack is a fixed-size memory region handed to the second core. It can be
// claimed exactly once and is never returned.
type Stack struct {
	mem   []byte
	owned atomic.Bool
}

// NewStack allocates a region of size bytes.
func NewStack(size int) *Stack {
	if size < 0 {
		size = 0
	}
	return &Stack{mem: make([]byte, size)}
}

// Size returns the region size in bytes.
func (s *Stack) Size() int { return len(s.mem) }

func (s *Stack) claim() ([]byte, error) {
	if len(s.mem) < MinStackSize {
		return nil, fmt.Errorf("stack of %d bytes is below the %d byte minimum", len(s.mem), MinStackSize)
	}
	if !s.owned.CompareAndSwap(false, true) {
		return nil, errors.New("stack region is already owned by a core")
	}
	return s.mem, nil
}

// launch words sent to the second core; each one must be echoed back
const (
	launchSync    = 0
	launchCommand = 1
	launchVector  = 0x1000_0100
)

// Entry is the code the second core runs on its stack. It owns the region
// for the rest of the process.
type Entry func(ctx context.Context, stack []byte) error

// StartSecondCore claims stack, brings up a second core running entry and
// returns as soon as the core has acknowledged the launch sequence. It does
// not wait for entry. The core runs as a goroutine of g locked to its own OS
// thread; entry's error is reported through g.
func StartSecondCore(ctx context.Context, g *errgroup.Group, stack *Stack, entry Entry, timeout time.Duration) error {
	if stack == nil {
		return fmt.Errorf("%w: nil stack", ErrSecondCoreStart)
	}
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrSecondCoreStart)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondCoreStart, err)
	}
	mem, err := stack.claim()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecondCoreStart, err)
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	tx := make(chan uint32)
	rx := make(chan uint32)
	seq := []uint32{launchSync, launchSync, launchCommand, launchVector, uint32(len(mem)), 1}

	g.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		for range seq {
			select {
			case w := <-tx:
				select {
				case rx <- w:
				case <-ctx.Done():
					return ctx.Err()
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return entry(ctx, mem)
	})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, w := range seq {
		select {
		case tx <- w:
		case <-deadline.C:
			return fmt.Errorf("%w: no response to launch word %#x", ErrSecondCoreStart, w)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrSecondCoreStart, ctx.Err())
		}
		select {
		case got := <-rx:
			if got != w {
				return fmt.Errorf("%w: launch word %#x echoed as %#x", ErrSecondCoreStart, w, got)
			}
		case <-deadline.C:
			return fmt.Errorf("%w: no echo for launch word %#x", ErrSecondCoreStart, w)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrSecondCoreStart, ctx.Err())
		}
	}
	return nil
}
