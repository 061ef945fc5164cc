// Package dispatch brings up the three schedulable domains: the second
// core's cooperative executor, the first core's interrupt executor and the
// first core's cooperative executor, all sharing one clock.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"twincore/internal/clock"
	"twincore/internal/looper"
	"twincore/internal/sched"
	"twincore/internal/status"
)

// Dispatcher owns the startup sequence and every component it creates.
type Dispatcher struct {
	cfg sched.Config
	out status.Emitter

	src   *clock.Source
	coreA *sched.Core
	coreB *sched.Core
	line  *sched.Line
	stack *Stack

	Exec0 *sched.Executor          // core A, thread mode
	Int   *sched.InterruptExecutor // core A, interrupt context
	Exec1 *sched.Executor          // core B

	// LaunchTimeout bounds the second core's launch handshake.
	LaunchTimeout time.Duration
}

// New builds the cores, the interrupt line and the executors over counter.
// Nothing runs until Boot or StartAll.
func New(cfg sched.Config, counter clock.Counter, out status.Emitter) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("nil status emitter")
	}

	d := &Dispatcher{
		cfg:           cfg,
		out:           out,
		src:           clock.NewSource(counter),
		coreA:         sched.NewCore(0, "core0"),
		coreB:         sched.NewCore(1, "core1"),
		line:          sched.NewLine("SWI_IRQ_0"),
		stack:         NewStack(cfg.SecondCoreStack),
		LaunchTimeout: time.Second,
	}

	var err error
	if d.Exec0, err = sched.NewExecutor(sched.PlaceCore0, d.coreA, d.src, cfg.TaskSlots); err != nil {
		return nil, err
	}
	if d.Int, err = sched.NewInterruptExecutor(sched.PlaceInterrupt, d.coreA, d.src, cfg.TaskSlots); err != nil {
		return nil, err
	}
	if d.Exec1, err = sched.NewExecutor(sched.PlaceCore1, d.coreB, d.src, cfg.TaskSlots); err != nil {
		return nil, err
	}
	return d, nil
}

// Clock returns the shared clock.
func (d *Dispatcher) Clock() *clock.Source { return d.src }

// Line returns the interrupt line of the interrupt executor.
func (d *Dispatcher) Line() *sched.Line { return d.line }

// Stack returns the second core's stack region.
func (d *Dispatcher) Stack() *Stack { return d.stack }

// Periods returns the logging period of every configured task.
func (d *Dispatcher) Periods() map[string]time.Duration {
	out := make(map[string]time.Duration, len(d.cfg.Tasks))
	for _, t := range d.cfg.Tasks {
		out[t.Name] = t.LogPeriod()
	}
	return out
}

// Watch registers every configured task with w, starting now.
func (d *Dispatcher) Watch(w *status.Watchdog) {
	now := d.src.Now()
	for _, t := range d.cfg.Tasks {
		w.Expect(t.Name, d.coreFor(t.Place).Name, t.LogPeriod(), now)
	}
}

func (d *Dispatcher) coreFor(place string) *sched.Core {
	if place == sched.PlaceCore1 {
		return d.coreB
	}
	return d.coreA
}

// Boot runs the startup sequence and then the system. It returns only when
// ctx is done or a startup step fails; startup failures cancel everything
// already started before returning.
func (d *Dispatcher) Boot(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	fatal := func(err error) error {
		cancel()
		g.Wait()
		return err
	}

	g.Go(func() error { return d.src.Run(gctx) })

	if err := StartSecondCore(gctx, g, d.stack, d.secondCoreEntry, d.LaunchTimeout); err != nil {
		return fatal(err)
	}

	d.line.SetPriority(clock.Priority(d.cfg.InterruptPriority))
	sp, err := d.Int.Start(d.line)
	if err != nil {
		return fatal(err)
	}
	if err := d.spawnPlace(sp, sched.PlaceInterrupt, d.coreA.Name); err != nil {
		return fatal(err)
	}
	g.Go(func() error {
		defer d.Int.Shutdown()
		return d.line.Serve(gctx)
	})

	g.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		return d.Exec0.Run(gctx, func(sp *sched.Spawner) error {
			return d.spawnPlace(sp, sched.PlaceCore0, d.coreA.Name)
		})
	})

	return g.Wait()
}

func (d *Dispatcher) secondCoreEntry(ctx context.Context, stack []byte) error {
	d.announce(len(stack))
	return d.Exec1.Run(ctx, func(sp *sched.Spawner) error {
		return d.spawnPlace(sp, sched.PlaceCore1, d.coreB.Name)
	})
}

func (d *Dispatcher) announce(stack int) {
	d.out.Emit(status.Record{
		Tick:    d.src.Now(),
		Kind:    status.KindInfo,
		Core:    d.coreB.Name,
		Message: fmt.Sprintf("%s starting up (%d byte stack)", d.coreB.Name, stack),
	})
}

// StartAll starts every executor and spawns every task without running
// anything. The virtual-time driver steps the executors afterwards.
func (d *Dispatcher) StartAll() error {
	mem, err := d.stack.claim()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecondCoreStart, err)
	}
	d.announce(len(mem))

	sp1, err := d.Exec1.Start()
	if err != nil {
		return err
	}
	if err := d.spawnPlace(sp1, sched.PlaceCore1, d.coreB.Name); err != nil {
		return err
	}

	d.line.SetPriority(clock.Priority(d.cfg.InterruptPriority))
	spi, err := d.Int.Start(d.line)
	if err != nil {
		return err
	}
	if err := d.spawnPlace(spi, sched.PlaceInterrupt, d.coreA.Name); err != nil {
		return err
	}

	sp0, err := d.Exec0.Start()
	if err != nil {
		return err
	}
	return d.spawnPlace(sp0, sched.PlaceCore0, d.coreA.Name)
}

// Shutdown releases every task goroutine. Only used after StartAll.
func (d *Dispatcher) Shutdown() {
	d.Int.Shutdown()
	d.Exec0.Shutdown()
	d.Exec1.Shutdown()
}

func (d *Dispatcher) spawnPlace(sp *sched.Spawner, place, core string) error {
	for _, tc := range d.cfg.TasksFor(place) {
		if _, err := sp.Spawn(tc.Name, looper.Body(looper.FromConfig(tc, core), d.out)); err != nil {
			return err
		}
	}
	return nil
}
