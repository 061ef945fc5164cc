package sched

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"twincore/internal/clock"
)

type fixture struct {
	m    *clock.Manual
	src  *clock.Source
	core *Core
	ex   *Executor
	sp   *Spawner
}

func newFixture(t *testing.T, slots int) *fixture {
	t.Helper()
	m := clock.NewManual(0)
	src := clock.NewSource(m)
	core := NewCore(0, "core0")
	ex, err := NewExecutor("test", core, src, slots)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	sp, err := ex.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(ex.Shutdown)
	return &fixture{m: m, src: src, core: core, ex: ex, sp: sp}
}

// advance jumps to the armed deadline and fires it.
func (f *fixture) advance(t *testing.T) clock.Tick {
	t.Helper()
	next, ok := f.src.Armed()
	if !ok {
		t.Fatal("nothing armed")
	}
	f.m.Set(next)
	if !f.src.Poll() {
		t.Fatalf("alarm at %d did not fire", next)
	}
	return next
}

type traceLog struct {
	mu  sync.Mutex
	evs []Event
}

func (l *traceLog) add(ev Event) {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
}

func (l *traceLog) dispatched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.evs {
		if ev.Kind == EventDispatch {
			out = append(out, ev.Task)
		}
	}
	return out
}

func (l *traceLog) reset() {
	l.mu.Lock()
	l.evs = nil
	l.mu.Unlock()
}

func sleeper(d time.Duration) func(*Co) {
	return func(co *Co) {
		for {
			co.Sleep(d)
		}
	}
}

func TestSpawnBeyondCapacityFails(t *testing.T) {
	f := newFixture(t, 2)

	for _, name := range []string{"a", "b"} {
		if _, err := f.sp.Spawn(name, sleeper(time.Millisecond)); err != nil {
			t.Fatalf("spawn %s: %v", name, err)
		}
	}

	_, err := f.sp.Spawn("c", sleeper(time.Millisecond))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	var se *SpawnError
	if !errors.As(err, &se) || se.Task != "c" || se.Executor != "test" {
		t.Fatalf("expected SpawnError for c on test, got %#v", err)
	}
	if f.ex.Len() != 2 || f.ex.Capacity() != 2 {
		t.Fatalf("Len() = %d, Capacity() = %d", f.ex.Len(), f.ex.Capacity())
	}
}

func TestSpawnNilBodyFails(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.sp.Spawn("nil", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadyTasksRunInArrivalOrder(t *testing.T) {
	f := newFixture(t, 4)
	var log traceLog
	f.ex.SetTrace(log.add)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := f.sp.Spawn(name, sleeper(time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	f.ex.Poll()
	want := []string{"a", "b", "c"}
	if got := log.dispatched(); !reflect.DeepEqual(got, want) {
		t.Fatalf("first pass: got %v want %v", got, want)
	}

	// all three are due at the same tick; they resume in the order they parked
	for i := 0; i < 5; i++ {
		log.reset()
		if got := f.advance(t); got != clock.Tick((i+1)*1000) {
			t.Fatalf("step %d fired at %d", i, got)
		}
		f.ex.Poll()
		if got := log.dispatched(); !reflect.DeepEqual(got, want) {
			t.Fatalf("step %d: got %v want %v", i, got, want)
		}
	}
}

func TestEarlierDeadlineRunsFirst(t *testing.T) {
	f := newFixture(t, 4)
	var log traceLog
	f.ex.SetTrace(log.add)

	f.sp.Spawn("slow", sleeper(3*time.Millisecond))
	f.sp.Spawn("fast", sleeper(time.Millisecond))
	f.ex.Poll()

	log.reset()
	for f.m.Now() < 3000 {
		f.advance(t)
		f.ex.Poll()
	}
	// at 3ms both are due; slow parked on that deadline first
	want := []string{"fast", "fast", "slow", "fast"}
	if got := log.dispatched(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPollWithNoTasksIdles(t *testing.T) {
	f := newFixture(t, 1)
	if _, ok := f.ex.Poll(); ok {
		t.Fatal("empty executor reported a deadline")
	}
	if _, armed := f.src.Armed(); armed {
		t.Fatal("empty executor armed the clock")
	}
}

func TestPollReturnsAndArmsEarliestDeadline(t *testing.T) {
	f := newFixture(t, 2)
	f.sp.Spawn("a", sleeper(5*time.Millisecond))
	f.sp.Spawn("b", sleeper(2*time.Millisecond))

	next, ok := f.ex.Poll()
	if !ok || next != 2000 {
		t.Fatalf("Poll() = %d, %v; want 2000", next, ok)
	}
	if armed, _ := f.src.Armed(); armed != 2000 {
		t.Fatalf("armed %d, want 2000", armed)
	}
}

func TestTickerIsPhaseLocked(t *testing.T) {
	f := newFixture(t, 1)

	var mu sync.Mutex
	var fired []clock.Tick
	f.sp.Spawn("tick", func(co *Co) {
		tk := co.Every(time.Millisecond)
		jitter := []time.Duration{300 * time.Microsecond, 10 * time.Microsecond, 900 * time.Microsecond}
		for i := 0; ; i++ {
			tk.Next()
			mu.Lock()
			fired = append(fired, co.Now())
			mu.Unlock()
			co.Sleep(jitter[i%len(jitter)])
		}
	})

	f.ex.Poll()
	for f.m.Now() < 150_000 {
		f.advance(t)
		f.ex.Poll()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) < 149 {
		t.Fatalf("only %d fires in 150 periods", len(fired))
	}
	for i, at := range fired {
		if want := clock.Tick((i + 1) * 1000); at != want {
			t.Fatalf("fire %d at %d, want %d", i, at, want)
		}
	}
}

func TestTickerCatchesUpWithoutSkipping(t *testing.T) {
	f := newFixture(t, 1)

	var mu sync.Mutex
	var deadlines []clock.Tick
	f.sp.Spawn("late", func(co *Co) {
		tk := co.Every(time.Millisecond)
		for {
			before := tk.Deadline()
			tk.Next()
			mu.Lock()
			deadlines = append(deadlines, before)
			mu.Unlock()
			co.Sleep(2500 * time.Microsecond)
		}
	})

	f.ex.Poll()
	for f.m.Now() < 20_000 {
		f.advance(t)
		f.ex.Poll()
	}

	mu.Lock()
	defer mu.Unlock()
	for i, d := range deadlines {
		if want := clock.Tick((i + 1) * 1000); d != want {
			t.Fatalf("deadline %d = %d, want %d", i, d, want)
		}
	}
}

func TestTickerReset(t *testing.T) {
	f := newFixture(t, 1)
	got := make(chan clock.Tick, 1)
	f.sp.Spawn("reset", func(co *Co) {
		tk := co.Every(time.Millisecond)
		co.Sleep(5500 * time.Microsecond)
		tk.Reset()
		got <- tk.Deadline()
		for {
			tk.Next()
		}
	})
	f.ex.Poll()
	f.advance(t)
	f.ex.Poll()
	if d := <-got; d != 6500 {
		t.Fatalf("deadline after reset = %d, want 6500", d)
	}
}

func TestEveryRoundsUpToOneTick(t *testing.T) {
	f := newFixture(t, 1)
	got := make(chan [2]time.Duration, 1)
	f.sp.Spawn("periods", func(co *Co) {
		got <- [2]time.Duration{co.Every(0).Period(), co.Every(1500 * time.Microsecond).Period()}
		for {
			co.Sleep(time.Second)
		}
	})
	f.ex.Poll()
	if p := <-got; p[0] != time.Microsecond || p[1] != 1500*time.Microsecond {
		t.Fatalf("periods %v", p)
	}
}

func TestRaceReportsWinnerAndPrefersLowestIndexOnTie(t *testing.T) {
	f := newFixture(t, 1)

	type win struct {
		at  clock.Tick
		idx int
	}
	var mu sync.Mutex
	var wins []win
	f.sp.Spawn("race", func(co *Co) {
		slow := co.Every(3 * time.Millisecond)
		fast := co.Every(time.Millisecond)
		for {
			i := co.Race(slow, fast)
			mu.Lock()
			wins = append(wins, win{co.Now(), i})
			mu.Unlock()
		}
	})

	f.ex.Poll()
	for f.m.Now() < 3000 {
		f.advance(t)
		f.ex.Poll()
	}

	mu.Lock()
	defer mu.Unlock()
	want := []win{{1000, 1}, {2000, 1}, {3000, 0}, {3000, 1}}
	if !reflect.DeepEqual(wins, want) {
		t.Fatalf("got %v want %v", wins, want)
	}
}

func TestYieldRequeuesBehindReadyTasks(t *testing.T) {
	f := newFixture(t, 2)
	var log traceLog
	f.ex.SetTrace(log.add)

	f.sp.Spawn("yielder", func(co *Co) {
		co.Yield()
		for {
			co.Sleep(time.Second)
		}
	})
	f.sp.Spawn("other", sleeper(time.Second))

	f.ex.Poll()
	want := []string{"yielder", "other", "yielder"}
	if got := log.dispatched(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReturningTaskIsDone(t *testing.T) {
	f := newFixture(t, 1)
	var log traceLog
	f.ex.SetTrace(log.add)

	id, _ := f.sp.Spawn("once", func(co *Co) {})
	f.ex.Poll()
	f.ex.Poll()

	task, ok := f.ex.Task(id)
	if !ok || task.State() != StateDone {
		t.Fatalf("task state = %v", task.State())
	}
	if got := log.dispatched(); len(got) != 1 {
		t.Fatalf("done task dispatched %d times", len(got))
	}
}

func TestTaskStatesAcrossSuspension(t *testing.T) {
	f := newFixture(t, 1)
	id, _ := f.sp.Spawn("s", sleeper(time.Millisecond))

	task, _ := f.ex.Task(id)
	if task.State() != StateReady {
		t.Fatalf("after spawn: %v", task.State())
	}
	f.ex.Poll()
	if task.State() != StateWaiting {
		t.Fatalf("after poll: %v", task.State())
	}
	if _, ok := f.ex.Task(5); ok {
		t.Fatal("Task(5) should not exist")
	}
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.ex.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestNewExecutorValidates(t *testing.T) {
	src := clock.NewSource(clock.NewManual(0))
	if _, err := NewExecutor("x", nil, src, 1); err == nil {
		t.Fatal("expected error for nil core")
	}
	if _, err := NewExecutor("x", NewCore(0, "c"), nil, 1); err == nil {
		t.Fatal("expected error for nil clock")
	}
	if _, err := NewExecutor("x", NewCore(0, "c"), src, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := clock.NewSource(clock.NewRealtime())
	ex, err := NewExecutor("rt", NewCore(0, "core0"), src, 2)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	var ticks atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- ex.Run(ctx, func(sp *Spawner) error {
			_, err := sp.Spawn("counter", func(co *Co) {
				tk := co.Every(time.Millisecond)
				for {
					tk.Next()
					ticks.Add(1)
				}
			})
			return err
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := ticks.Load(); n < 20 {
		t.Fatalf("only %d ticks in 100ms", n)
	}
}

func TestRunReportsSpawnFailure(t *testing.T) {
	src := clock.NewSource(clock.NewManual(0))
	ex, _ := NewExecutor("small", NewCore(0, "core0"), src, 1)

	err := ex.Run(context.Background(), func(sp *Spawner) error {
		if _, err := sp.Spawn("a", sleeper(time.Millisecond)); err != nil {
			return err
		}
		_, err := sp.Spawn("b", sleeper(time.Millisecond))
		return err
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}
