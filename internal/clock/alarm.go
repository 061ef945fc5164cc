package clock

import "sync/atomic"

// encoded value of a disarmed register
const disarmed = 0

// Alarm is the compare register of one alarm channel.
//
// It holds at most one deadline. Every mutation is a single compare-and-swap
// on the whole 64-bit word, so concurrent arms from both cores and the
// interrupt context can never leave a value mixed from two writers.
// Deadline 0 is stored as 1; arming the boot instant is at most one tick late.
type Alarm struct {
	reg atomic.Uint64
}

// Load returns the armed deadline, if any.
func (a *Alarm) Load() (Tick, bool) {
	v := a.reg.Load()
	return Tick(v), v != disarmed
}

// Arm schedules deadline d unless an earlier deadline is already armed.
// It reports whether the register now holds d.
//
// A caller whose deadline loses does not need to retry: the earlier fire
// wakes every waiter and each one re-arms its own earliest deadline.
func (a *Alarm) Arm(d Tick) bool {
	if d == disarmed {
		d = 1
	}
	for {
		cur := a.reg.Load()
		if cur != disarmed && !d.Before(Tick(cur)) {
			return cur == uint64(d)
		}
		if a.reg.CompareAndSwap(cur, uint64(d)) {
			return true
		}
	}
}

// Take disarms the register if it still holds d. It fails when another
// writer armed a different deadline in the meantime.
func (a *Alarm) Take(d Tick) bool {
	if d == disarmed {
		return false
	}
	return a.reg.CompareAndSwap(uint64(d), disarmed)
}

// Disarm clears the register and returns what was armed.
func (a *Alarm) Disarm() (Tick, bool) {
	v := a.reg.Swap(disarmed)
	return Tick(v), v != disarmed
}
