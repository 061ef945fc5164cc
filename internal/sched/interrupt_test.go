package sched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"twincore/internal/clock"
)

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (l *orderLog) looper(name string, period time.Duration) func(*Co) {
	return func(co *Co) {
		for {
			l.mu.Lock()
			l.names = append(l.names, name)
			l.mu.Unlock()
			co.Sleep(period)
		}
	}
}

func (l *orderLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.names
	l.names = nil
	return out
}

func TestInterruptTasksPreemptThreadTasks(t *testing.T) {
	m := clock.NewManual(0)
	src := clock.NewSource(m)
	core := NewCore(0, "core0")

	thread, err := NewExecutor("thread", core, src, 2)
	if err != nil {
		t.Fatal(err)
	}
	irq, err := NewInterruptExecutor("irq", core, src, 2)
	if err != nil {
		t.Fatal(err)
	}
	line := NewLine("SWI_IRQ_0")
	line.SetPriority(2)

	spI, err := irq.Start(line)
	if err != nil {
		t.Fatal(err)
	}
	spT, err := thread.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		irq.Shutdown()
		thread.Shutdown()
	})

	var log orderLog
	if _, err := spT.Spawn("t", log.looper("t", time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, err := spI.Spawn("i", log.looper("i", time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if !line.Busy() {
		t.Fatal("spawning on the interrupt executor did not pend its line")
	}

	for step := 0; step < 10; step++ {
		// thread mode gets the core first; the pending line must still win
		thread.PollIfWoken()
		line.ServicePending()

		got := log.take()
		if len(got) != 2 || got[0] != "i" || got[1] != "t" {
			t.Fatalf("step %d: order %v, want [i t]", step, got)
		}

		next, ok := src.Armed()
		if !ok {
			t.Fatalf("step %d: nothing armed", step)
		}
		m.Set(next)
		src.Poll()
	}
	if line.Serviced() < 10 {
		t.Fatalf("line serviced %d times", line.Serviced())
	}
}

func TestMaskExcludesHandler(t *testing.T) {
	line := NewLine("l")
	ran := make(chan struct{}, 1)
	if err := line.bind(func() { ran <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	line.Pend()

	done := make(chan struct{})
	line.Mask(func() {
		go func() {
			line.ServicePending()
			close(done)
		}()
		select {
		case <-ran:
			t.Error("handler ran while the line was masked")
		case <-time.After(20 * time.Millisecond):
		}
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("service did not complete after unmask")
	}
	select {
	case <-ran:
	default:
		t.Fatal("handler never ran")
	}
	if line.Busy() {
		t.Fatal("line still busy after service")
	}
}

func TestPendDuringServiceRunsAgain(t *testing.T) {
	line := NewLine("l")
	n := 0
	line.bind(func() {
		n++
		if n == 1 {
			line.Pend()
		}
	})
	line.Pend()
	line.ServicePending()
	if n != 2 {
		t.Fatalf("handler ran %d times, want 2", n)
	}
	if line.ServicePending() {
		t.Fatal("idle line serviced")
	}
}

func TestCoreBindings(t *testing.T) {
	src := clock.NewSource(clock.NewManual(0))
	coreA := NewCore(0, "core0")
	coreB := NewCore(1, "core1")

	a, err := NewExecutor("a", coreA, src, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a.Core() != coreA {
		t.Fatalf("executor bound to %s", a.Core().Name)
	}
	if _, err := NewExecutor("b", coreA, src, 1); !errors.Is(err, ErrCoreBound) {
		t.Fatalf("second cooperative executor: %v", err)
	}

	lineA := NewLine("a")
	ia, _ := NewInterruptExecutor("ia", coreA, src, 1)
	if _, err := ia.Start(lineA); err != nil {
		t.Fatal(err)
	}
	if _, err := ia.Start(NewLine("again")); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart: %v", err)
	}

	ib, _ := NewInterruptExecutor("ib", coreA, src, 1)
	if _, err := ib.Start(NewLine("b")); !errors.Is(err, ErrCoreBound) {
		t.Fatalf("second interrupt executor on core0: %v", err)
	}

	ic, _ := NewInterruptExecutor("ic", coreB, src, 1)
	if _, err := ic.Start(lineA); !errors.Is(err, ErrLineBound) {
		t.Fatalf("reused line: %v", err)
	}
}

func TestLinePriorityStaysBelowThread(t *testing.T) {
	line := NewLine("l")
	if line.Priority() >= clock.Thread {
		t.Fatalf("default priority %d", line.Priority())
	}
	line.SetPriority(clock.Thread)
	if line.Priority() != clock.Thread-1 {
		t.Fatalf("priority %d after clamping", line.Priority())
	}
	line.SetPriority(2)
	if line.Priority() != 2 {
		t.Fatalf("priority %d, want 2", line.Priority())
	}
}
