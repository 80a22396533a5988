package jobs

import (
	"context"

	"github.com/cockroachdb/errors"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
)

// possibility decides whether an action is allowed given the transaction and
// the jobs visible through repo.
type possibility func(ctx context.Context, repo *store.JobRepo, info models.TransactionInfo) (bool, error)

// CanComplete reports whether the transaction may be captured: it must be
// authorized with no capture or void still running.
func (s *Services) CanComplete(ctx context.Context, info models.TransactionInfo) (bool, error) {
	return completable(ctx, s.store.Jobs(), info)
}

// CanVoid follows the same rule as CanComplete.
func (s *Services) CanVoid(ctx context.Context, info models.TransactionInfo) (bool, error) {
	return completable(ctx, s.store.Jobs(), info)
}

// CanRefund reports whether the transaction may be refunded: it must be
// settled with no refund still running.
func (s *Services) CanRefund(ctx context.Context, info models.TransactionInfo) (bool, error) {
	return refundable(ctx, s.store.Jobs(), info)
}

// HasRunningJobs reports whether any job of any kind is still running for the order.
func (s *Services) HasRunningJobs(ctx context.Context, info models.TransactionInfo) (bool, error) {
	n, err := s.store.Jobs().CountRunningForOrderAllKinds(ctx, info.OrderID)
	if err != nil {
		return false, errors.Wrapf(err, "running jobs of order %d", info.OrderID)
	}
	return n > 0, nil
}

func completable(ctx context.Context, repo *store.JobRepo, info models.TransactionInfo) (bool, error) {
	if info.State != models.TxAuthorized {
		return false, nil
	}
	return noneRunning(ctx, repo, info.OrderID, models.KindCompletion, models.KindVoid)
}

func refundable(ctx context.Context, repo *store.JobRepo, info models.TransactionInfo) (bool, error) {
	switch info.State {
	case models.TxCompleted, models.TxFulfill, models.TxDecline:
	default:
		return false, nil
	}
	return noneRunning(ctx, repo, info.OrderID, models.KindRefund)
}

func noneRunning(ctx context.Context, repo *store.JobRepo, orderID int64, kinds ...models.JobKind) (bool, error) {
	for _, kind := range kinds {
		n, err := repo.CountRunningForOrder(ctx, kind, orderID)
		if err != nil {
			return false, errors.Wrapf(err, "running %s jobs of order %d", kind, orderID)
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}

// allowedUnderLock re-reads the transaction and its running jobs inside the
// locked store transaction, so two requests cannot both pass the check.
func allowedUnderLock(action string, allowed possibility) guard {
	return func(ctx context.Context, tx *store.Tx, info models.TransactionInfo) error {
		current, found, err := tx.Transactions().LoadByTransaction(ctx, info.SpaceID, info.TransactionID)
		if err != nil {
			return errors.Wrapf(err, "%s order %d", action, info.OrderID)
		}
		if !found {
			return errors.Wrapf(store.ErrNotFound, "%s order %d", action, info.OrderID)
		}
		ok, err := allowed(ctx, tx.Jobs(), *current)
		if err != nil {
			return errors.Wrapf(err, "%s order %d", action, info.OrderID)
		}
		if !ok {
			return errors.Wrapf(ErrNotPossible, "%s order %d in state %s", action, current.OrderID, current.State)
		}
		return nil
	}
}
