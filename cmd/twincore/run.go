package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"twincore/internal/clock"
	"twincore/internal/dispatch"
	"twincore/internal/status"
)

var (
	runOpts = struct {
		csv   string
		watch time.Duration
	}{}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Boot all executors in real time",
		Long:  "Boot the second core, the interrupt executor and the first core's executor, and print status lines until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			stream, err := newStream(runOpts.csv)
			if err != nil {
				return err
			}
			watchdog := status.NewWatchdog(2)
			stream.Observe(watchdog.Observe)

			printed := make(chan error, 1)
			go func() { printed <- stream.Run() }()

			counter := clock.NewRealtime()
			d, err := dispatch.New(cfg, counter, stream)
			if err != nil {
				stream.Close()
				<-printed
				return err
			}
			d.Watch(watchdog)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go watch(ctx, watchdog, d.Clock(), stream, runOpts.watch)

			err = d.Boot(ctx)
			stream.Close()
			if perr := <-printed; perr != nil && err == nil {
				err = perr
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&runOpts.csv, "csv", "", "also write records to this CSV file")
	runCmd.Flags().DurationVar(&runOpts.watch, "watch", time.Second, "liveness check interval")
}

// watch reports stalled tasks every interval.
func watch(ctx context.Context, w *status.Watchdog, src *clock.Source, out status.Emitter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := src.Now()
			for _, s := range w.Check(now) {
				out.Emit(status.Record{Tick: now, Kind: status.KindStall, Task: s.Task, Core: s.Core, Count: s.Missed})
			}
		case <-ctx.Done():
			return
		}
	}
}
