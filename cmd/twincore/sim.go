package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"twincore/internal/clock"
	"twincore/internal/sched"
	"twincore/internal/sim"
	"twincore/internal/status"
)

var (
	simOpts = struct {
		csv      string
		duration time.Duration
		trace    bool
	}{}

	simCmd = &cobra.Command{
		Use:   "sim",
		Short: "Run the system in virtual time",
		Long:  "Run the same executors and tasks against a virtual clock. Output is deterministic and independent of host load.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			stream, err := newStream(simOpts.csv)
			if err != nil {
				return err
			}
			printed := make(chan error, 1)
			go func() { printed <- stream.Run() }()

			epoch := time.Now().Truncate(time.Second)
			out := virtualTime{epoch: epoch, next: stream}
			watchdog := status.NewWatchdog(2)

			drv, err := sim.New(cfg, status.Tee{out, watchdog})
			if err != nil {
				stream.Close()
				<-printed
				return err
			}
			drv.D.Watch(watchdog)
			if simOpts.trace {
				for _, ex := range []*sched.Executor{drv.D.Exec0, drv.D.Int.Executor, drv.D.Exec1} {
					ex.SetTrace(func(ev sched.Event) {
						out.Emit(status.Record{
							Tick:    ev.Tick,
							Kind:    status.KindInfo,
							Task:    ev.Task,
							Message: fmt.Sprintf("%-9s %-8s %s", ev.Executor, ev.Kind, ev.Task),
						})
					})
				}
			}

			// check once per virtual second
			var nextCheck clock.Tick
			drv.OnStep = func(now clock.Tick) {
				if now.Before(nextCheck) {
					return
				}
				nextCheck = now.Add(time.Second)
				for _, s := range watchdog.Check(now) {
					out.Emit(status.Record{Tick: now, Kind: status.KindStall, Task: s.Task, Core: s.Core, Count: s.Missed})
				}
			}

			err = drv.Run(simOpts.duration)
			out.Emit(status.Record{
				Tick: drv.Now(),
				Kind: status.KindInfo,
				Message: fmt.Sprintf("ran %v of virtual time: %d alarm fires, %d interrupt services",
					simOpts.duration, drv.D.Clock().Fires(), drv.D.Line().Serviced()),
			})
			drv.Stop()
			stream.Close()
			if perr := <-printed; perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
)

func init() {
	simCmd.Flags().StringVar(&simOpts.csv, "csv", "", "also write records to this CSV file")
	simCmd.Flags().DurationVarP(&simOpts.duration, "duration", "d", 12*time.Second, "virtual time to run")
	simCmd.Flags().BoolVar(&simOpts.trace, "trace", false, "print every run-loop event")
}

// virtualTime stamps records with wall time derived from their tick.
type virtualTime struct {
	epoch time.Time
	next  status.Emitter
}

func (v virtualTime) Emit(r status.Record) {
	r.Time = v.epoch.Add(time.Duration(r.Tick) * time.Microsecond)
	v.next.Emit(r)
}
