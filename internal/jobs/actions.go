package jobs

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
)

// CaptureOrder creates and sends a completion for the order's transaction.
// The possibility check runs under the transaction lock.
func (s *Services) CaptureOrder(ctx context.Context, orderID int64) (*models.Job, error) {
	info, err := s.transaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	job, err := s.Completion.create(ctx, *info, allowedUnderLock("capture", completable))
	if err != nil {
		return nil, err
	}
	return s.Completion.Send(ctx, job)
}

// VoidOrder creates and sends a void for the order's transaction.
func (s *Services) VoidOrder(ctx context.Context, orderID int64) (*models.Job, error) {
	info, err := s.transaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	job, err := s.Void.create(ctx, *info, allowedUnderLock("void", completable))
	if err != nil {
		return nil, err
	}
	return s.Void.Send(ctx, job)
}

// RefundOrder creates and sends a refund for the order's transaction.
func (s *Services) RefundOrder(ctx context.Context, orderID int64, reductions []models.LineItemReduction, restock bool) (*models.Job, error) {
	info, err := s.transaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(models.NormalizeReductions(reductions)) == 0 {
		return nil, errors.WithHint(errors.Wrapf(ErrNotPossible, "refund order %d", orderID),
			"at least one line item needs a positive quantity or unit price reduction")
	}
	job, err := s.Refund.create(ctx, *info, reductions, restock, allowedUnderLock("refund", refundable))
	if err != nil {
		return nil, err
	}
	return s.Refund.Send(ctx, job)
}

// JobsForOrder lists every job of every kind for the order.
func (s *Services) JobsForOrder(ctx context.Context, orderID int64) ([]*models.Job, error) {
	var out []*models.Job
	for _, kind := range models.JobKinds {
		jobs, err := s.store.Jobs().LoadByOrder(ctx, kind, orderID)
		if err != nil {
			return nil, errors.Wrapf(err, "jobs of order %d", orderID)
		}
		out = append(out, jobs...)
	}
	return out, nil
}

// OrderOverview is an order's job history with its running and refunded totals.
type OrderOverview struct {
	Jobs []*models.Job
	// Running is set while any job of any kind can still reach the gateway.
	Running bool
	// Refunded sums the amounts of successful refunds.
	Refunded decimal.Decimal
}

// Overview lists the order's jobs and summarises them.
func (s *Services) Overview(ctx context.Context, orderID int64) (*OrderOverview, error) {
	info, err := s.transaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	list, err := s.JobsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	running, err := s.HasRunningJobs(ctx, *info)
	if err != nil {
		return nil, err
	}
	refunded, err := s.store.Jobs().SumRefundedAmount(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "refunded amount of order %d", orderID)
	}
	return &OrderOverview{Jobs: list, Running: running, Refunded: refunded}, nil
}

// FailedJobsForOrder lists the FAILED_CHECK jobs that MarkFailedAsDone would move.
func (s *Services) FailedJobsForOrder(ctx context.Context, orderID int64) ([]*models.Job, error) {
	var out []*models.Job
	for _, kind := range models.JobKinds {
		failed, err := s.store.Jobs().LoadFailedCheckedForOrder(ctx, kind, orderID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed jobs of order %d", orderID)
		}
		out = append(out, failed...)
	}
	return out, nil
}

// FindByGatewayJob finds the job the gateway knows under jobID, of any kind.
func (s *Services) FindByGatewayJob(ctx context.Context, spaceID, jobID int64) (*models.Job, error) {
	for _, kind := range models.JobKinds {
		job, found, err := s.store.Jobs().LoadByJob(ctx, kind, spaceID, jobID)
		if err != nil {
			return nil, errors.Wrapf(err, "find gateway job %d", jobID)
		}
		if found {
			return job, nil
		}
	}
	return nil, errors.Wrapf(store.ErrNotFound, "gateway job %d in space %d", jobID, spaceID)
}

// FindRefund finds a refund by the external id it was sent with.
func (s *Services) FindRefund(ctx context.Context, spaceID int64, externalID string) (*models.Job, error) {
	job, found, err := s.store.Jobs().LoadRefundByExternalID(ctx, spaceID, externalID)
	if err != nil {
		return nil, errors.Wrapf(err, "find refund %s", externalID)
	}
	if !found {
		return nil, errors.Wrapf(store.ErrNotFound, "refund %s in space %d", externalID, spaceID)
	}
	return job, nil
}

func (s *Services) transaction(ctx context.Context, orderID int64) (*models.TransactionInfo, error) {
	info, found, err := s.store.Transactions().LoadByOrderID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "transaction of order %d", orderID)
	}
	if !found {
		return nil, errors.Wrapf(store.ErrNotFound, "transaction of order %d", orderID)
	}
	return info, nil
}
