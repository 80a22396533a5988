package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cockroachdb/errors"

	"payment-reconciler/internal/models"
)

// AlertRepo maintains the operator-facing counters.
type AlertRepo struct {
	q querier
	s *Store
}

// Increment adds delta (which may be negative) to the counter in one
// statement, clamping at zero.
func (r *AlertRepo) Increment(ctx context.Context, key string, delta int64) error {
	query := fmt.Sprintf("UPDATE alerts SET count = %s(count + $1, 0) WHERE alert_key = $2", r.s.dialect.greatest)
	res, err := r.q.ExecContext(ctx, query, delta, key)
	if err != nil {
		return errors.Wrapf(err, "increment alert %s", key)
	}
	return expectOne(res, key)
}

// Set overwrites the counter, used when the true value is known (e.g. manual tasks).
func (r *AlertRepo) Set(ctx context.Context, key string, count int64) error {
	if count < 0 {
		count = 0
	}
	res, err := r.q.ExecContext(ctx, "UPDATE alerts SET count = $1 WHERE alert_key = $2", count, key)
	if err != nil {
		return errors.Wrapf(err, "set alert %s", key)
	}
	return expectOne(res, key)
}

// Get reads one counter.
func (r *AlertRepo) Get(ctx context.Context, key string) (models.Alert, bool, error) {
	var a models.Alert
	err := r.q.QueryRowContext(ctx,
		"SELECT alert_key, route, level, count FROM alerts WHERE alert_key = $1", key,
	).Scan(&a.Key, &a.Route, &a.Level, &a.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, false, nil
	}
	if err != nil {
		return models.Alert{}, false, errors.Wrapf(err, "get alert %s", key)
	}
	return a, true, nil
}

// List returns every counter ordered by key.
func (r *AlertRepo) List(ctx context.Context) ([]models.Alert, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT alert_key, route, level, count FROM alerts ORDER BY alert_key")
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.Key, &a.Route, &a.Level, &a.Count); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate alerts")
}

func expectOne(res sql.Result, key string) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "alert %s", key)
	}
	return nil
}
