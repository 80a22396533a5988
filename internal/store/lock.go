package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// LockTransaction takes a row-level exclusive lock on the stored transaction
// identified by (spaceID, transactionID) and reports whether the row exists.
// The lock is held until the transaction commits or rolls back, which
// serialises every create and send path touching the same remote transaction.
func (t *Tx) LockTransaction(ctx context.Context, spaceID, transactionID int64) (bool, error) {
	query := "SELECT transaction_id FROM transaction_infos WHERE space_id = $1 AND transaction_id = $2" + t.s.dialect.forUpdate
	var id int64
	err := t.tx.QueryRowContext(ctx, query, spaceID, transactionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lock transaction %d/%d", spaceID, transactionID)
	}
	return true, nil
}
