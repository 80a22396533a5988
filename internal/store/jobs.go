package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"payment-reconciler/internal/models"
)

// DefaultNotSentPeriod is how long a job may sit in CREATED before it counts as stuck.
const DefaultNotSentPeriod = 10 * time.Minute

// JobRepo persists completion, refund and void jobs. Every query is
// parameterised by kind; each kind lives in its own table.
type JobRepo struct {
	q querier
	s *Store
}

// Save inserts a new job (ID == 0) or updates an existing one.
// updated_at is refreshed on every save; created_at is fixed at insert.
func (r *JobRepo) Save(ctx context.Context, job *models.Job) error {
	if job.ID == 0 {
		return r.Insert(ctx, job)
	}
	t, err := tableFor(job.Kind)
	if err != nil {
		return err
	}
	now := r.s.now()
	sets := make([]string, 0, len(t.columns)+1)
	args := make([]any, 0, len(t.columns)+2)
	for i, c := range t.columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value(job))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, now)
	args = append(args, job.ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", t.name, strings.Join(sets, ", "), len(args))

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s %d", t.name, job.ID)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %d", t.name, job.ID)
	}
	job.UpdatedAt = now
	return nil
}

// Insert persists a new job and assigns its id and timestamps.
func (r *JobRepo) Insert(ctx context.Context, job *models.Job) error {
	t, err := tableFor(job.Kind)
	if err != nil {
		return err
	}
	if job.Labels == nil {
		job.Labels = models.Labels{}
	}
	now := r.s.now()
	names := make([]string, 0, len(t.columns)+2)
	marks := make([]string, 0, len(t.columns)+2)
	args := make([]any, 0, len(t.columns)+2)
	for _, c := range t.columns {
		names = append(names, c.name)
		args = append(args, c.value(job))
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}
	names = append(names, "created_at", "updated_at")
	args = append(args, now)
	marks = append(marks, fmt.Sprintf("$%d", len(args)), fmt.Sprintf("$%d", len(args)))
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		t.name, strings.Join(names, ", "), strings.Join(marks, ", "))

	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&job.ID); err != nil {
		return errors.Wrapf(err, "insert %s", t.name)
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// Get fetches a job by its store id.
func (r *JobRepo) Get(ctx context.Context, kind models.JobKind, id int64) (*models.Job, bool, error) {
	return r.queryOne(ctx, kind, "id = $1", "", id)
}

// LoadNotSentForOrder returns the CREATED job for an order, if any.
func (r *JobRepo) LoadNotSentForOrder(ctx context.Context, kind models.JobKind, orderID int64) (*models.Job, bool, error) {
	return r.queryOne(ctx, kind, "order_id = $1 AND state = $2", "ORDER BY id ASC",
		orderID, string(models.StateCreated))
}

// LoadRunningForOrder returns any job for the order that is not in a terminal state.
func (r *JobRepo) LoadRunningForOrder(ctx context.Context, kind models.JobKind, orderID int64) (*models.Job, bool, error) {
	return r.queryOne(ctx, kind, "order_id = $1 AND state NOT IN ($2, $3, $4)", "ORDER BY id ASC",
		append([]any{orderID}, terminalArgs()...)...)
}

// CountRunningForOrder counts non-terminal jobs of one kind for an order.
func (r *JobRepo) CountRunningForOrder(ctx context.Context, kind models.JobKind, orderID int64) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(id) FROM %s WHERE order_id = $1 AND state NOT IN ($2, $3, $4)", t.name)
	args := append([]any{orderID}, terminalArgs()...)
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count running %s", t.name)
	}
	return n, nil
}

// CountRunningForOrderAllKinds counts non-terminal jobs of every kind for an
// order in a single statement, so the three tables are read from one snapshot.
func (r *JobRepo) CountRunningForOrderAllKinds(ctx context.Context, orderID int64) (int, error) {
	parts := make([]string, 0, len(models.JobKinds))
	for _, kind := range models.JobKinds {
		parts = append(parts, fmt.Sprintf(
			"(SELECT COUNT(id) FROM %s WHERE order_id = $1 AND state NOT IN ($2, $3, $4))", jobTables[kind].name))
	}
	var n int
	args := append([]any{orderID}, terminalArgs()...)
	if err := r.q.QueryRowContext(ctx, "SELECT "+strings.Join(parts, " + "), args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count running jobs")
	}
	return n, nil
}

// LoadNotSent returns CREATED jobs whose updated_at is older than now - period.
func (r *JobRepo) LoadNotSent(ctx context.Context, kind models.JobKind, period time.Duration) ([]*models.Job, error) {
	if period <= 0 {
		period = DefaultNotSentPeriod
	}
	cutoff := r.s.now().Add(-period)
	return r.queryAll(ctx, kind, "state = $1 AND updated_at < $2", "ORDER BY id ASC",
		string(models.StateCreated), cutoff)
}

// HasNotSent reports whether any kind has a CREATED job older than now - period.
func (r *JobRepo) HasNotSent(ctx context.Context, period time.Duration) (bool, error) {
	if period <= 0 {
		period = DefaultNotSentPeriod
	}
	cutoff := r.s.now().Add(-period)
	parts := make([]string, 0, len(models.JobKinds))
	for _, kind := range models.JobKinds {
		parts = append(parts, fmt.Sprintf(
			"SELECT id FROM %s WHERE state = $1 AND updated_at < $2", jobTables[kind].name))
	}
	var exists bool
	query := "SELECT EXISTS (" + strings.Join(parts, " UNION ALL ") + ")"
	if err := r.q.QueryRowContext(ctx, query, string(models.StateCreated), cutoff).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check not sent jobs")
	}
	return exists, nil
}

// LoadOldestCheckable returns the FAILED_CHECK job with the smallest updated_at, ties broken by id.
func (r *JobRepo) LoadOldestCheckable(ctx context.Context, kind models.JobKind) (*models.Job, bool, error) {
	return r.queryOne(ctx, kind, "state = $1", "ORDER BY updated_at ASC, id ASC",
		string(models.StateFailedCheck))
}

// MarkFailedAsDone moves every FAILED_CHECK job of the order to FAILED_DONE
// and returns how many rows moved.
func (r *JobRepo) MarkFailedAsDone(ctx context.Context, kind models.JobKind, orderID int64) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET state = $1, updated_at = $2 WHERE order_id = $3 AND state = $4", t.name)
	res, err := r.q.ExecContext(ctx, query,
		string(models.StateFailedDone), r.s.now(), orderID, string(models.StateFailedCheck))
	if err != nil {
		return 0, errors.Wrapf(err, "mark failed %s as done", t.name)
	}
	return rowsAffected(res)
}

// CountForOrder counts every job of the kind ever created for the order.
func (r *JobRepo) CountForOrder(ctx context.Context, kind models.JobKind, orderID int64) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(id) FROM %s WHERE order_id = $1", t.name)
	if err := r.q.QueryRowContext(ctx, query, orderID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", t.name)
	}
	return n, nil
}

// LoadByOrder returns all jobs of the kind for an order, oldest first.
func (r *JobRepo) LoadByOrder(ctx context.Context, kind models.JobKind, orderID int64) ([]*models.Job, error) {
	return r.queryAll(ctx, kind, "order_id = $1", "ORDER BY id ASC", orderID)
}

// LoadFailedCheckedForOrder returns the order's FAILED_CHECK jobs of the kind.
func (r *JobRepo) LoadFailedCheckedForOrder(ctx context.Context, kind models.JobKind, orderID int64) ([]*models.Job, error) {
	return r.queryAll(ctx, kind, "order_id = $1 AND state = $2", "ORDER BY id ASC",
		orderID, string(models.StateFailedCheck))
}

// LoadByJob finds a job by the gateway's operation id.
func (r *JobRepo) LoadByJob(ctx context.Context, kind models.JobKind, spaceID, jobID int64) (*models.Job, bool, error) {
	return r.queryOne(ctx, kind, "job_id = $1 AND space_id = $2", "", jobID, spaceID)
}

// LoadRefundByExternalID finds a refund by its external id.
func (r *JobRepo) LoadRefundByExternalID(ctx context.Context, spaceID int64, externalID string) (*models.Job, bool, error) {
	return r.queryOne(ctx, models.KindRefund, "space_id = $1 AND external_id = $2", "", spaceID, externalID)
}

// SumRefundedAmount totals the amounts of successful refunds for an order.
func (r *JobRepo) SumRefundedAmount(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	jobs, err := r.queryAll(ctx, models.KindRefund, "order_id = $1 AND state = $2", "",
		orderID, string(models.StateSuccess))
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, j := range jobs {
		if j.Amount.Valid {
			total = total.Add(j.Amount.Decimal)
		}
	}
	return total, nil
}

func (r *JobRepo) queryOne(ctx context.Context, kind models.JobKind, where, order string, args ...any) (*models.Job, bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s %s LIMIT 1", t.selectList(), t.name, where, order)
	job, err := t.scan(r.q.QueryRowContext(ctx, query, args...), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "query %s", t.name)
	}
	return job, true, nil
}

func (r *JobRepo) queryAll(ctx context.Context, kind models.JobKind, where, order string, args ...any) ([]*models.Job, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s %s", t.selectList(), t.name, where, order)
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", t.name)
	}
	return t.scanAll(rows, kind)
}

func terminalArgs() []any {
	args := make([]any, 0, len(models.TerminalStates))
	for _, s := range models.TerminalStates {
		args = append(args, string(s))
	}
	return args
}
