package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"payment-reconciler/internal/models"
)

const transactionColumns = "space_id, transaction_id, order_id, state, currency, authorization_amount, failure_reason, created_at, updated_at"

// TransactionRepo stores the local copy of remote payment transactions.
// It is the transaction context provider for new jobs.
type TransactionRepo struct {
	q querier
	s *Store
}

// Upsert inserts or refreshes a transaction keyed by (space_id, transaction_id).
func (r *TransactionRepo) Upsert(ctx context.Context, info *models.TransactionInfo) error {
	now := r.s.now()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transaction_infos (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (space_id, transaction_id) DO UPDATE SET
			order_id = excluded.order_id,
			state = excluded.state,
			currency = excluded.currency,
			authorization_amount = excluded.authorization_amount,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`, info.SpaceID, info.TransactionID, info.OrderID, string(info.State), info.Currency,
		info.AuthorizationAmount, info.FailureReason, now)
	if err != nil {
		return errors.Wrapf(err, "upsert transaction %d/%d", info.SpaceID, info.TransactionID)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now
	return nil
}

// LoadByOrderID returns the most recent transaction stored for an order.
func (r *TransactionRepo) LoadByOrderID(ctx context.Context, orderID int64) (*models.TransactionInfo, bool, error) {
	return r.queryOne(ctx, "SELECT "+transactionColumns+" FROM transaction_infos WHERE order_id = $1 ORDER BY id DESC LIMIT 1", orderID)
}

// LoadByTransaction returns the transaction stored for (spaceID, transactionID).
func (r *TransactionRepo) LoadByTransaction(ctx context.Context, spaceID, transactionID int64) (*models.TransactionInfo, bool, error) {
	return r.queryOne(ctx, "SELECT "+transactionColumns+" FROM transaction_infos WHERE space_id = $1 AND transaction_id = $2", spaceID, transactionID)
}

func (r *TransactionRepo) queryOne(ctx context.Context, query string, args ...any) (*models.TransactionInfo, bool, error) {
	var info models.TransactionInfo
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&info.SpaceID, &info.TransactionID, &info.OrderID, &info.State, &info.Currency,
		&info.AuthorizationAmount, &info.FailureReason, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "query transaction")
	}
	return &info, true, nil
}
