package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"payment-reconciler/internal/models"
)

// HangingCronMessage is recorded on executions recovered by CleanUpHanging.
const HangingCronMessage = "Cron did not terminate correctly, timeout exceeded."

// CronTiming controls the claim table's clocks.
type CronTiming struct {
	// ScheduleDelay is how far in the future a new pending slot becomes due.
	ScheduleDelay time.Duration
	// HangTimeout is how long a processing slot may run before it is forced to error.
	HangTimeout time.Duration
	// Retention is how long terminal slots are kept.
	Retention time.Duration
}

// DefaultCronTiming schedules one minute ahead, times out after five minutes
// and keeps history for a day.
func DefaultCronTiming() CronTiming {
	return CronTiming{
		ScheduleDelay: time.Minute,
		HangTimeout:   5 * time.Minute,
		Retention:     24 * time.Hour,
	}
}

func (t CronTiming) withDefaults() CronTiming {
	def := DefaultCronTiming()
	if t.ScheduleDelay < 0 {
		t.ScheduleDelay = def.ScheduleDelay
	}
	if t.HangTimeout <= 0 {
		t.HangTimeout = def.HangTimeout
	}
	if t.Retention <= 0 {
		t.Retention = def.Retention
	}
	return t
}

// CronRepo is the single-flight claim table. Uniqueness over
// (state, constraint_key) admits at most one pending and one processing row;
// admission is decided solely by affected-row counts.
type CronRepo struct {
	s *Store
}

// InsertNewPending schedules a new pending slot unless one already exists.
// It returns true only if this call inserted the row.
func (r *CronRepo) InsertNewPending(ctx context.Context) (bool, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() // safe no-op on commit

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT security_token FROM cron_claims WHERE state = $1 LIMIT 1", string(models.CronPending),
	).Scan(&existing)
	switch {
	case err == nil:
		return false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return false, errors.Wrap(err, "query pending cron")
	}

	now := r.s.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cron_claims (constraint_key, state, security_token, date_scheduled)
		VALUES ($1, $2, $3, $4)
	`, models.ConstraintPending, string(models.CronPending), uuid.NewString(), now.Add(r.s.timing.ScheduleDelay))
	if err != nil {
		if IsUniqueViolation(err) {
			// A concurrent caller scheduled the slot first.
			return false, nil
		}
		return false, errors.Wrap(err, "insert pending cron")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "commit pending cron")
	}
	return n == 1, nil
}

// CurrentTokenForPending returns the token of the pending slot if it is due.
func (r *CronRepo) CurrentTokenForPending(ctx context.Context) (string, bool, error) {
	var token string
	err := r.s.db.QueryRowContext(ctx,
		"SELECT security_token FROM cron_claims WHERE state = $1 AND date_scheduled <= $2 LIMIT 1",
		string(models.CronPending), r.s.now(),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "query due cron")
	}
	return token, true, nil
}

// SetProcessing claims the pending slot identified by token. Exactly one of
// any number of racing callers gets true.
func (r *CronRepo) SetProcessing(ctx context.Context, token string) (bool, error) {
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE cron_claims SET constraint_key = $1, state = $2, date_started = $3
		WHERE security_token = $4 AND state = $5
	`, models.ConstraintProcessing, string(models.CronProcessing), r.s.now(), token, string(models.CronPending))
	if err != nil {
		if IsUniqueViolation(err) {
			// Another slot is still processing.
			return false, nil
		}
		return false, errors.Wrap(err, "claim cron")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetComplete moves the processing slot to success, or to error when runErr
// is non-nil, and frees the processing sentinel.
func (r *CronRepo) SetComplete(ctx context.Context, token string, runErr error) (bool, error) {
	state := models.CronSuccess
	msg := ""
	if runErr != nil {
		state = models.CronError
		msg = runErr.Error()
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE cron_claims SET constraint_key = id, state = $1, date_completed = $2, error_message = $3
		WHERE security_token = $4 AND state = $5
	`, string(state), r.s.now(), msg, token, string(models.CronProcessing))
	if err != nil {
		return false, errors.Wrap(err, "complete cron")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CleanUpHanging forces processing slots older than the hang timeout to error.
func (r *CronRepo) CleanUpHanging(ctx context.Context) (int64, error) {
	now := r.s.now()
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE cron_claims SET constraint_key = id, state = $1, date_completed = $2, error_message = $3
		WHERE state = $4 AND date_started < $5
	`, string(models.CronError), now, HangingCronMessage, string(models.CronProcessing), now.Add(-r.s.timing.HangTimeout))
	if err != nil {
		return 0, errors.Wrap(err, "clean up hanging crons")
	}
	return rowsAffected(res)
}

// CleanUp deletes terminal slots completed before the retention window.
func (r *CronRepo) CleanUp(ctx context.Context) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `
		DELETE FROM cron_claims WHERE state IN ($1, $2) AND date_completed < $3
	`, string(models.CronSuccess), string(models.CronError), r.s.now().Add(-r.s.timing.Retention))
	if err != nil {
		return 0, errors.Wrap(err, "clean up cron history")
	}
	return rowsAffected(res)
}

// List returns the most recent slots, newest first.
func (r *CronRepo) List(ctx context.Context, limit int) ([]models.CronClaim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, security_token, state, constraint_key, date_scheduled, date_started, date_completed, error_message
		FROM cron_claims ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list crons")
	}
	defer rows.Close()
	var out []models.CronClaim
	for rows.Next() {
		var c models.CronClaim
		if err := rows.Scan(&c.ID, &c.SecurityToken, &c.State, &c.ConstraintKey,
			&c.DateScheduled, &c.DateStarted, &c.DateCompleted, &c.ErrorMessage); err != nil {
			return nil, errors.Wrap(err, "scan cron")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate crons")
}
