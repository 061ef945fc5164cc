package looper

import (
	"testing"
	"time"

	"twincore/internal/clock"
	"twincore/internal/sched"
	"twincore/internal/status"
)

// runVirtual runs bodies on one executor over a manual clock until until.
func runVirtual(t *testing.T, until time.Duration, params ...Params) *status.Recorder {
	t.Helper()
	m := clock.NewManual(0)
	src := clock.NewSource(m)
	ex, err := sched.NewExecutor("test", sched.NewCore(0, "core0"), src, len(params))
	if err != nil {
		t.Fatal(err)
	}
	sp, err := ex.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ex.Shutdown)

	rec := &status.Recorder{}
	for _, p := range params {
		if _, err := sp.Spawn(p.Name, Body(p, rec)); err != nil {
			t.Fatal(err)
		}
	}

	end := clock.Tick(0).Add(until)
	for {
		ex.Poll()
		next, ok := src.Armed()
		if !ok {
			t.Fatal("executor went idle")
		}
		if end.Before(next) {
			return rec
		}
		m.Set(next)
		src.Poll()
	}
}

func within(got, want, tol int) bool {
	return got >= want-tol && got <= want+tol
}

func TestCountsFollowRateAndDelay(t *testing.T) {
	slow := Params{Name: "slow", Core: "core0", Rate: time.Millisecond, Delay: 5 * time.Millisecond, LogPeriod: 100 * time.Millisecond}
	fast := Params{Name: "fast", Core: "core0", Rate: 500 * time.Microsecond, LogPeriod: 100 * time.Millisecond}
	twin := slow
	twin.Name = "twin"

	// a window's emission can land one delay after its deadline
	recs := runVirtual(t, time.Second+10*time.Millisecond, slow, fast, twin).Records()

	for _, p := range []Params{slow, fast, twin} {
		starts := status.Filter(recs, status.KindStart, p.Name)
		if len(starts) != 1 || starts[0].Tick != 0 {
			t.Fatalf("%s: start records %+v", p.Name, starts)
		}

		st := status.Filter(recs, status.KindStatus, p.Name)
		if len(st) != 10 {
			t.Fatalf("%s: %d status records in 10 periods", p.Name, len(st))
		}
		want := Expected(p)
		for i, r := range st {
			if !within(r.Count, want, 1) {
				t.Errorf("%s window %d: count %d, want %d±1", p.Name, i, r.Count, want)
			}
			if r.Core != "core0" {
				t.Errorf("%s: core %q", p.Name, r.Core)
			}
		}
	}

	// identical tasks sharing an executor report identical work
	a := status.Filter(recs, status.KindStatus, "slow")
	b := status.Filter(recs, status.KindStatus, "twin")
	for i := range a {
		if a[i].Count != b[i].Count {
			t.Fatalf("window %d: slow=%d twin=%d", i, a[i].Count, b[i].Count)
		}
	}
}

func TestLoggingStaysPhaseLocked(t *testing.T) {
	p := Params{Name: "p", Rate: time.Millisecond, Delay: 3 * time.Millisecond, LogPeriod: 50 * time.Millisecond}
	st := status.Filter(runVirtual(t, time.Second+10*time.Millisecond, p).Records(), status.KindStatus, "p")
	if len(st) != 20 {
		t.Fatalf("%d status records", len(st))
	}
	for i, r := range st {
		ideal := clock.Tick((i + 1) * 50_000)
		// an emission may be held back by at most one work sleep
		if late := r.Tick.Sub(ideal); late < 0 || late > p.Delay {
			t.Fatalf("emission %d at %d, ideal %d", i, r.Tick, ideal)
		}
	}
}

func TestExpectedForDefaults(t *testing.T) {
	cfg := sched.DefaultConfig()
	want := map[string]int{"int  ": 200, "core0": 250, "core1": 126}
	for _, tc := range cfg.Tasks {
		if got := Expected(FromConfig(tc, "c")); got != want[tc.Name] {
			t.Errorf("%q: Expected = %d, want %d", tc.Name, got, want[tc.Name])
		}
	}
	if Expected(Params{}) != 0 {
		t.Error("zero params should expect nothing")
	}
}
