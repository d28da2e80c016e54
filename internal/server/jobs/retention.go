// Package jobs holds the server's recurring background work.
package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
)

type Sweeper interface {
	RetentionSweep(ctx context.Context) (*services.SweepReport, error)
}

type RetentionOptions struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// StartRetentionJob runs a retention sweep every Interval until ctx is done.
// Each tick gets its own Timeout. The returned channel is closed when the
// loop exits.
func StartRetentionJob(ctx context.Context, o RetentionOptions, sweeper Sweeper, log logging.Logger) <-chan struct{} {
	done := make(chan struct{})
	if log == nil {
		log = logging.Nop{}
	}
	log = log.With("module", "retention_job")

	if !o.Enabled || sweeper == nil {
		log.Info(ctx, "retention job disabled")
		close(done)
		return done
	}
	interval := o.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				report, err := sweeper.RetentionSweep(tickCtx)
				cancel()
				if err != nil {
					log.Error(ctx, "retention sweep finished with errors", "error", err)
				}
				if report != nil {
					deleted := 0
					for _, c := range report.Categories {
						deleted += c.Deleted
					}
					log.Info(ctx, "retention sweep done", "deleted", deleted, "duration", report.FinishedAt.Sub(report.StartedAt).String())
				}
			}
		}
	}()
	return done
}
