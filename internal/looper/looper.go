// Package looper is the periodic workload run on every schedulable domain.
package looper

import (
	"time"

	"twincore/internal/sched"
	"twincore/internal/status"
)

// Params configure one looper task.
type Params struct {
	Name      string
	Core      string
	Rate      time.Duration // work ticker period
	Delay     time.Duration // suspension after each work tick
	LogPeriod time.Duration // logging ticker period; zero means one second plus Rate
}

// FromConfig converts a task entry of the configuration.
func FromConfig(tc sched.TaskConfig, core string) Params {
	return Params{
		Name:      tc.Name,
		Core:      core,
		Rate:      tc.Rate(),
		Delay:     tc.Delay(),
		LogPeriod: tc.LogPeriod(),
	}
}

// Body returns the task body. It races a logging ticker against a work
// ticker forever. A work tick increments the counter and then sleeps for
// Delay; a logging tick emits the counter and resets it. The counter is
// local to the body, so no two tasks ever see each other's work.
func Body(p Params, out status.Emitter) func(*sched.Co) {
	logPeriod := p.LogPeriod
	if logPeriod <= 0 {
		logPeriod = time.Second + p.Rate
	}

	return func(co *sched.Co) {
		logger := co.Every(logPeriod)
		trigger := co.Every(p.Rate)
		count := 0

		out.Emit(status.Record{Tick: co.Now(), Kind: status.KindStart, Task: p.Name, Core: p.Core})
		for {
			switch co.Race(logger, trigger) {
			case 0:
				out.Emit(status.Record{
					Tick:  co.Now(),
					Kind:  status.KindStatus,
					Task:  p.Name,
					Core:  p.Core,
					Count: count,
				})
				count = 0
			case 1:
				count++
				co.Sleep(p.Delay)
			}
		}
	}
}

// Expected is the number of work ticks a healthy task reports per logging
// window: one per rate, but never faster than one per delay.
func Expected(p Params) int {
	step := p.Rate
	if p.Delay > step {
		step = p.Delay
	}
	if step <= 0 {
		return 0
	}
	lp := p.LogPeriod
	if lp <= 0 {
		lp = time.Second + p.Rate
	}
	return int(lp / step)
}
