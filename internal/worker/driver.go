package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"payment-reconciler/internal/store"
	"payment-reconciler/internal/telemetry"
)

// Work is what runs while the cron claim is held.
type Work interface {
	Run(ctx context.Context) error
}

// Options tunes the long-running trigger loop.
type Options struct {
	TickInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Driver runs the single-flight cron cycle against the claim table. Any
// number of drivers may tick concurrently across processes; the table admits
// one of them per due slot.
type Driver struct {
	cron *store.CronRepo
	work Work
	opts Options
	log  *zap.SugaredLogger
}

func NewDriver(st *store.Store, work Work, opts Options, log *zap.SugaredLogger) *Driver {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{cron: st.Cron(), work: work, opts: opts, log: log}
}

// RunOnce performs one cycle: recover hung slots, schedule the next slot,
// and if a slot is due and this caller wins it, run the work and record the
// outcome. ran is false when nothing was due or another caller won.
func (d *Driver) RunOnce(ctx context.Context) (ran bool, err error) {
	defer func() {
		switch {
		case err != nil:
			telemetry.CronTicks.WithLabelValues(telemetry.OutcomeError).Inc()
		case ran:
			telemetry.CronTicks.WithLabelValues(telemetry.OutcomeRan).Inc()
		default:
			telemetry.CronTicks.WithLabelValues(telemetry.OutcomeSkipped).Inc()
		}
	}()

	hung, err := d.cron.CleanUpHanging(ctx)
	if err != nil {
		return false, err
	}
	if hung > 0 {
		telemetry.CronHangingReset.Add(float64(hung))
		d.log.Warnw("recovered hanging cron executions", "count", hung)
	}

	if _, err := d.cron.InsertNewPending(ctx); err != nil {
		return false, err
	}
	token, due, err := d.cron.CurrentTokenForPending(ctx)
	if err != nil {
		return false, err
	}
	if !due {
		d.log.Debugw("no cron slot due")
		return false, nil
	}
	won, err := d.cron.SetProcessing(ctx, token)
	if err != nil {
		return false, err
	}
	if !won {
		d.log.Debugw("cron slot claimed elsewhere", "token", token)
		return false, nil
	}

	runErr := d.work.Run(ctx)
	if runErr != nil {
		d.log.Errorw("cron work failed", "token", token, "error", runErr)
	}
	// Record the outcome even if the caller's context is gone, so the slot is not left hanging.
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	completed, err := d.cron.SetComplete(completeCtx, token, runErr)
	if err != nil {
		return true, errors.CombineErrors(err, runErr)
	}
	if !completed {
		d.log.Warnw("cron slot was no longer processing", "token", token)
	}

	if n, err := d.cron.CleanUp(completeCtx); err != nil {
		d.log.Warnw("cron history cleanup failed", "error", err)
	} else if n > 0 {
		d.log.Debugw("cron history cleaned", "deleted", n)
	}
	return true, runErr
}

// Run ticks RunOnce until the context is cancelled. Failed ticks back off
// with jitter before the next attempt.
func (d *Driver) Run(ctx context.Context) error {
	failures := 0
	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		ran, err := d.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			wait = backoffWithJitter(d.opts.BackoffInitial, d.opts.BackoffMax, failures)
			d.log.Errorw("cron tick failed", "error", err, "attempt", failures, "retry_in", wait)
			continue
		}
		failures = 0
		wait = d.opts.TickInterval
		if ran {
			d.log.Infow("cron tick completed")
		}
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
