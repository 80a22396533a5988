// Package jobs turns capture, refund and void requests into durable jobs and
// drives them to the payment gateway.
package jobs

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
)

var (
	// ErrConflictingOperation is returned when a pending job for the order
	// disagrees with the request.
	ErrConflictingOperation = errors.New("a conflicting operation is already running for this order")
	// ErrNotPossible is returned when the transaction's state or running jobs forbid the action.
	ErrNotPossible = errors.New("operation is not possible for this transaction")
)

// Services bundles the per-kind job services over one store and gateway.
type Services struct {
	Completion *CompletionService
	Refund     *RefundService
	Void       *VoidService

	store *store.Store
	log   *zap.SugaredLogger
}

func NewServices(st *store.Store, gw gateway.Client, log *zap.SugaredLogger) *Services {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &engine{store: st, gateway: gw, log: log}
	return &Services{
		Completion: &CompletionService{e: e},
		Refund:     &RefundService{e: e},
		Void:       &VoidService{e: e},
		store:      st,
		log:        log,
	}
}

// Send dispatches to the service matching the job's kind.
func (s *Services) Send(ctx context.Context, job *models.Job) (*models.Job, error) {
	switch job.Kind {
	case models.KindCompletion:
		return s.Completion.Send(ctx, job)
	case models.KindRefund:
		return s.Refund.Send(ctx, job)
	case models.KindVoid:
		return s.Void.Send(ctx, job)
	default:
		return nil, errors.Newf("unknown job kind %q", job.Kind)
	}
}

// MarkFailedAsDone moves every FAILED_CHECK job of the order, of any kind,
// to FAILED_DONE and returns how many moved.
func (s *Services) MarkFailedAsDone(ctx context.Context, orderID int64) (int64, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
	}
	defer tx.Rollback()

	info, found, err := tx.Transactions().LoadByOrderID(ctx, orderID)
	if err != nil {
		return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
	}
	if found {
		if err := lock(ctx, tx, info.SpaceID, info.TransactionID); err != nil {
			return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
		}
	}

	var total int64
	for _, kind := range models.JobKinds {
		n, err := tx.Jobs().MarkFailedAsDone(ctx, kind, orderID)
		if err != nil {
			return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
		}
		total += n
	}
	if total > 0 {
		if err := tx.Alerts().Increment(ctx, models.AlertFailedJobs, -total); err != nil {
			return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "mark failed jobs of order %d as done", orderID)
	}
	s.log.Infow("failed jobs marked as done", "order", orderID, "count", total)
	return total, nil
}

// CompletionService captures authorized payments.
type CompletionService struct {
	e *engine
}

// Create returns the order's waiting completion job, or creates one for the
// full authorized amount.
func (s *CompletionService) Create(ctx context.Context, info models.TransactionInfo) (*models.Job, error) {
	return s.create(ctx, info, nil)
}

func (s *CompletionService) create(ctx context.Context, info models.TransactionInfo, check guard) (*models.Job, error) {
	return s.e.create(ctx, models.KindCompletion, info, check, nil,
		func(_ context.Context, _ *store.Tx, job *models.Job) error {
			job.Amount = decimal.NewNullDecimal(info.AuthorizationAmount)
			return nil
		})
}

func (s *CompletionService) Send(ctx context.Context, job *models.Job) (*models.Job, error) {
	return s.e.send(ctx, job, func(ctx context.Context, j *models.Job) (gateway.Operation, error) {
		return s.e.gateway.Capture(ctx, j.SpaceID, j.TransactionID)
	})
}

// RefundService refunds completed payments line item by line item.
type RefundService struct {
	e *engine
}

// Create returns the order's waiting refund job if it asks for the same
// reductions, fails with ErrConflictingOperation if it asks for different
// ones, and otherwise creates a refund with external id r-{order}-{n}.
func (s *RefundService) Create(ctx context.Context, info models.TransactionInfo, reductions []models.LineItemReduction, restock bool) (*models.Job, error) {
	return s.create(ctx, info, reductions, restock, nil)
}

func (s *RefundService) create(ctx context.Context, info models.TransactionInfo, reductions []models.LineItemReduction, restock bool, check guard) (*models.Job, error) {
	items := models.NormalizeReductions(reductions)
	return s.e.create(ctx, models.KindRefund, info, check,
		func(job *models.Job) error {
			if !job.ReductionItems.Equal(items) {
				return errors.Wrapf(ErrConflictingOperation, "refund %s is still pending", job.ExternalID)
			}
			return nil
		},
		func(ctx context.Context, tx *store.Tx, job *models.Job) error {
			n, err := tx.Jobs().CountForOrder(ctx, models.KindRefund, info.OrderID)
			if err != nil {
				return err
			}
			job.ExternalID = ExternalRefundID(info.OrderID, n)
			job.ReductionItems = items
			job.Restock = restock
			return nil
		})
}

func (s *RefundService) Send(ctx context.Context, job *models.Job) (*models.Job, error) {
	return s.e.send(ctx, job, func(ctx context.Context, j *models.Job) (gateway.Operation, error) {
		return s.e.gateway.Refund(ctx, j.SpaceID, gateway.RefundRequest{
			TransactionID: j.TransactionID,
			ExternalID:    j.ExternalID,
			Type:          gateway.RefundTypeMerchantInitiatedOnline,
			Reductions:    j.ReductionItems,
		})
	})
}

// ExternalRefundID names the refund that follows prior refunds of an order.
func ExternalRefundID(orderID int64, prior int) string {
	return fmt.Sprintf("r-%d-%d", orderID, prior+1)
}

// VoidService cancels authorizations.
type VoidService struct {
	e *engine
}

func (s *VoidService) Create(ctx context.Context, info models.TransactionInfo) (*models.Job, error) {
	return s.create(ctx, info, nil)
}

func (s *VoidService) create(ctx context.Context, info models.TransactionInfo, check guard) (*models.Job, error) {
	return s.e.create(ctx, models.KindVoid, info, check, nil, nil)
}

func (s *VoidService) Send(ctx context.Context, job *models.Job) (*models.Job, error) {
	return s.e.send(ctx, job, func(ctx context.Context, j *models.Job) (gateway.Operation, error) {
		return s.e.gateway.Void(ctx, j.SpaceID, j.TransactionID)
	})
}
