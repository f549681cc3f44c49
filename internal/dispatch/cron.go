package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Cron submits a run on a fixed cadence. Each tick submits one run; the
// dispatcher's retry and throttle machinery takes it from there, so ticks
// cannot pile up into overlapping sweeps.
type Cron struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// StartCron begins submitting the run produced by build to d every
// interval. The first submission happens after one full interval.
func StartCron(d *Dispatcher, name string, interval time.Duration, build func() Run) *Cron {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cron{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Submit(ctx, build()); err != nil {
					slog.Error("cron submit failed", "cron", name, "error", err)
				}
			}
		}
	}()
	return c
}

// Stop halts the cron and waits for its goroutine to exit.
func (c *Cron) Stop() {
	c.cancel()
	<-c.done
}
