package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/telemetry"
)

// ReconcilerConfig tunes one reconciliation pass.
type ReconcilerConfig struct {
	// NotSentPeriod is how long a CREATED job waits before it is retried.
	NotSentPeriod time.Duration
	// SpaceID selects whose manual tasks are counted. Zero skips the refresh.
	SpaceID int64
}

// Reconciler is the work run while holding the cron claim.
type Reconciler struct {
	services *Services
	store    *store.Store
	gateway  gateway.Client
	cfg      ReconcilerConfig
	log      *zap.SugaredLogger
}

func NewReconciler(services *Services, gw gateway.Client, cfg ReconcilerConfig) *Reconciler {
	if cfg.NotSentPeriod <= 0 {
		cfg.NotSentPeriod = store.DefaultNotSentPeriod
	}
	return &Reconciler{
		services: services,
		store:    services.store,
		gateway:  gw,
		cfg:      cfg,
		log:      services.log,
	}
}

// Run sends stuck CREATED jobs of every kind, re-sends the oldest
// FAILED_CHECK job and refreshes the manual task alert. It keeps going past
// individual failures and returns them combined.
func (r *Reconciler) Run(ctx context.Context) error {
	errs := r.sendUnsent(ctx)
	if err := ctx.Err(); err != nil {
		return errors.CombineErrors(errs, err)
	}

	oldest, err := r.oldestCheckable(ctx)
	if err != nil {
		errs = errors.CombineErrors(errs, err)
	} else if oldest != nil {
		r.log.Infow("re-checking failed job", "kind", oldest.Kind, "id", oldest.ID, "order", oldest.OrderID)
		if _, err := r.services.Send(ctx, oldest); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	r.refreshManualTasks(ctx)
	return errs
}

// sendUnsent sends CREATED jobs older than the not-sent period. A single
// existence query across kinds skips the per-kind scans when nothing is stuck.
func (r *Reconciler) sendUnsent(ctx context.Context) error {
	pending, err := r.store.Jobs().HasNotSent(ctx, r.cfg.NotSentPeriod)
	if err != nil {
		return err
	}
	if !pending {
		r.log.Debugw("no unsent jobs", "period", r.cfg.NotSentPeriod)
		return nil
	}

	var errs error
	for _, kind := range models.JobKinds {
		stuck, err := r.store.Jobs().LoadNotSent(ctx, kind, r.cfg.NotSentPeriod)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "load unsent %s jobs", kind))
			continue
		}
		for _, job := range stuck {
			if err := ctx.Err(); err != nil {
				return errors.CombineErrors(errs, err)
			}
			if _, err := r.services.Send(ctx, job); err != nil {
				errs = errors.CombineErrors(errs, err)
			}
		}
	}
	return errs
}

// oldestCheckable picks the FAILED_CHECK job with the smallest updated_at
// across kinds. Ties go to the kind listed first.
func (r *Reconciler) oldestCheckable(ctx context.Context) (*models.Job, error) {
	var oldest *models.Job
	for _, kind := range models.JobKinds {
		job, found, err := r.store.Jobs().LoadOldestCheckable(ctx, kind)
		if err != nil {
			return nil, errors.Wrapf(err, "load oldest failed %s job", kind)
		}
		if found && (oldest == nil || job.UpdatedAt.Before(oldest.UpdatedAt)) {
			oldest = job
		}
	}
	return oldest, nil
}

func (r *Reconciler) refreshManualTasks(ctx context.Context) {
	if r.cfg.SpaceID == 0 || r.gateway == nil {
		return
	}
	n, err := r.gateway.CountOpenManualTasks(ctx, r.cfg.SpaceID)
	if err != nil {
		r.log.Warnw("counting manual tasks failed", "space", r.cfg.SpaceID, "error", err)
		return
	}
	if err := r.store.Alerts().Set(ctx, models.AlertManualTask, n); err != nil {
		r.log.Warnw("saving manual task count failed", "count", n, "error", err)
		return
	}
	telemetry.AlertCount.WithLabelValues(models.AlertManualTask).Set(float64(n))
}
