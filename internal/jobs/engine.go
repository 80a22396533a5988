package jobs

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/telemetry"
)

// remoteCall issues the gateway operation for one job.
type remoteCall func(ctx context.Context, job *models.Job) (gateway.Operation, error)

// guard vetoes a create once the transaction lock is held.
type guard func(ctx context.Context, tx *store.Tx, info models.TransactionInfo) error

// engine holds the create/send flow shared by every job kind.
type engine struct {
	store   *store.Store
	gateway gateway.Client
	log     *zap.SugaredLogger
}

// create returns the order's CREATED job of kind, or persists a new one. It
// runs under the transaction lock so concurrent creators converge on one row.
// check runs first under the lock; existing vets a job that is already
// waiting; prepare fills kind specific fields of a new one.
func (e *engine) create(
	ctx context.Context,
	kind models.JobKind,
	info models.TransactionInfo,
	check guard,
	existing func(job *models.Job) error,
	prepare func(ctx context.Context, tx *store.Tx, job *models.Job) error,
) (*models.Job, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s job", kind)
	}
	defer tx.Rollback()

	if err := lock(ctx, tx, info.SpaceID, info.TransactionID); err != nil {
		return nil, errors.Wrapf(err, "create %s job", kind)
	}
	if check != nil {
		if err := check(ctx, tx, info); err != nil {
			return nil, err
		}
	}

	job, found, err := tx.Jobs().LoadNotSentForOrder(ctx, kind, info.OrderID)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s job", kind)
	}
	if found {
		if existing != nil {
			if err := existing(job); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrapf(err, "create %s job", kind)
		}
		return job, nil
	}

	job = models.NewJob(kind, info)
	if prepare != nil {
		if err := prepare(ctx, tx, job); err != nil {
			return nil, errors.Wrapf(err, "create %s job", kind)
		}
	}
	if err := tx.Jobs().Insert(ctx, job); err != nil {
		return nil, errors.Wrapf(err, "create %s job", kind)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "create %s job", kind)
	}

	telemetry.JobsCreated.WithLabelValues(string(kind)).Inc()
	e.log.Infow("job created", "kind", kind, "id", job.ID, "order", job.OrderID, "transaction", job.TransactionID)
	return job, nil
}

// send hands a CREATED or FAILED_CHECK job to the gateway while holding the
// transaction lock. Jobs in any other state are returned as stored.
//
// A definitive gateway answer is always recorded: SENT on acceptance,
// FAILED_CHECK on rejection. A transport failure rolls back and leaves the job
// untouched.
func (e *engine) send(ctx context.Context, job *models.Job, call remoteCall) (*models.Job, error) {
	if job == nil || job.ID == 0 {
		return nil, errors.New("send: job has not been persisted")
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s job %d", job.Kind, job.ID)
	}
	defer tx.Rollback()

	if err := lock(ctx, tx, job.SpaceID, job.TransactionID); err != nil {
		return nil, errors.Wrapf(err, "send %s job %d", job.Kind, job.ID)
	}
	current, found, err := tx.Jobs().Get(ctx, job.Kind, job.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s job %d", job.Kind, job.ID)
	}
	if !found {
		return nil, errors.Wrapf(store.ErrNotFound, "send %s job %d", job.Kind, job.ID)
	}
	if !current.State.Sendable() {
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrapf(err, "send %s job %d", job.Kind, job.ID)
		}
		return current, nil
	}

	op, callErr := call(ctx, current)
	if callErr != nil && !gateway.IsRejection(callErr) {
		telemetry.JobsSendErrors.WithLabelValues(string(job.Kind)).Inc()
		e.log.Errorw("gateway call failed", "kind", job.Kind, "id", job.ID, "error", callErr)
		return nil, errors.Wrapf(callErr, "send %s job %d", job.Kind, job.ID)
	}

	next, delta := outcome(current, op, callErr)
	if err := record(ctx, tx, next, delta); err != nil {
		_ = tx.Rollback()
		e.log.Warnw("recording gateway answer failed, retrying in a new transaction",
			"kind", job.Kind, "id", job.ID, "state", next.State, "error", err)
		if retryErr := e.recordFresh(ctx, next, delta); retryErr != nil {
			return nil, errors.WithSecondaryError(
				errors.Wrapf(retryErr, "record %s job %d as %s", job.Kind, job.ID, next.State), err)
		}
	}

	if callErr != nil {
		telemetry.JobsFailedCheck.WithLabelValues(string(job.Kind)).Inc()
		e.log.Warnw("gateway rejected job", "kind", job.Kind, "id", job.ID, "order", job.OrderID,
			"reason", gateway.RejectionMessage(callErr))
	} else {
		telemetry.JobsSent.WithLabelValues(string(job.Kind)).Inc()
		e.log.Infow("job sent", "kind", job.Kind, "id", job.ID, "order", job.OrderID, "job_id", op.ID)
	}
	return next, nil
}

// outcome applies the gateway's answer to a copy of job and returns the
// change to the failed_jobs alert.
func outcome(job *models.Job, op gateway.Operation, callErr error) (*models.Job, int64) {
	next := job.Clone()
	wasFailed := job.State == models.StateFailedCheck
	if callErr != nil {
		next.State = models.StateFailedCheck
		next.FailureReason = models.FailureReason{models.FallbackLanguage: gateway.RejectionMessage(callErr)}
		if wasFailed {
			return next, 0
		}
		return next, 1
	}

	id := op.ID
	next.JobID = &id
	next.State = models.StateSent
	next.Labels = append(models.Labels{}, op.Labels...)
	next.FailureReason = op.FailureReason
	if next.Kind == models.KindRefund && op.Amount.Valid {
		next.Amount = op.Amount
	}
	if wasFailed {
		return next, -1
	}
	return next, 0
}

func record(ctx context.Context, tx *store.Tx, job *models.Job, delta int64) error {
	if err := tx.Jobs().Save(ctx, job); err != nil {
		return err
	}
	if delta != 0 {
		if err := tx.Alerts().Increment(ctx, models.AlertFailedJobs, delta); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e *engine) recordFresh(ctx context.Context, job *models.Job, delta int64) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := lock(ctx, tx, job.SpaceID, job.TransactionID); err != nil {
		return err
	}
	return record(ctx, tx, job, delta)
}

// lock takes the per-transaction lock. A transaction that is not stored
// locally cannot be locked, so jobs for it are refused.
func lock(ctx context.Context, tx *store.Tx, spaceID, transactionID int64) error {
	ok, err := tx.LockTransaction(ctx, spaceID, transactionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "transaction %d in space %d", transactionID, spaceID)
	}
	return nil
}
