package store

import (
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"

	"payment-reconciler/internal/models"
)

// jobColumn maps one persisted column onto a typed Job field: value is the
// argument written to the column, dest is the scan target.
type jobColumn struct {
	name  string
	value func(j *models.Job) any
	dest  func(j *models.Job) any
}

var (
	colJobID = jobColumn{"job_id",
		func(j *models.Job) any { return j.JobID },
		func(j *models.Job) any { return &j.JobID }}
	colState = jobColumn{"state",
		func(j *models.Job) any { return string(j.State) },
		func(j *models.Job) any { return &j.State }}
	colSpaceID = jobColumn{"space_id",
		func(j *models.Job) any { return j.SpaceID },
		func(j *models.Job) any { return &j.SpaceID }}
	colTransactionID = jobColumn{"transaction_id",
		func(j *models.Job) any { return j.TransactionID },
		func(j *models.Job) any { return &j.TransactionID }}
	colOrderID = jobColumn{"order_id",
		func(j *models.Job) any { return j.OrderID },
		func(j *models.Job) any { return &j.OrderID }}
	colLabels = jobColumn{"labels",
		func(j *models.Job) any { return j.Labels },
		func(j *models.Job) any { return &j.Labels }}
	colFailureReason = jobColumn{"failure_reason",
		func(j *models.Job) any { return j.FailureReason },
		func(j *models.Job) any { return &j.FailureReason }}
	colAmount = jobColumn{"amount",
		func(j *models.Job) any { return j.Amount },
		func(j *models.Job) any { return &j.Amount }}
	colExternalID = jobColumn{"external_id",
		func(j *models.Job) any { return j.ExternalID },
		func(j *models.Job) any { return &j.ExternalID }}
	colRestock = jobColumn{"restock",
		func(j *models.Job) any { return j.Restock },
		func(j *models.Job) any { return &j.Restock }}
	colReductionItems = jobColumn{"reduction_items",
		func(j *models.Job) any { return j.ReductionItems },
		func(j *models.Job) any { return &j.ReductionItems }}
)

var baseJobColumns = []jobColumn{colJobID, colState, colSpaceID, colTransactionID, colOrderID, colLabels, colFailureReason}

// jobTable describes the table and the columns persisted for one job kind.
type jobTable struct {
	name    string
	columns []jobColumn
}

var jobTables = map[models.JobKind]jobTable{
	models.KindCompletion: {
		name:    "completion_jobs",
		columns: withBase(colAmount),
	},
	models.KindRefund: {
		name:    "refund_jobs",
		columns: withBase(colExternalID, colRestock, colReductionItems, colAmount),
	},
	models.KindVoid: {
		name:    "void_jobs",
		columns: withBase(),
	},
}

func withBase(extra ...jobColumn) []jobColumn {
	cols := make([]jobColumn, 0, len(baseJobColumns)+len(extra))
	cols = append(cols, baseJobColumns...)
	return append(cols, extra...)
}

func tableFor(kind models.JobKind) (jobTable, error) {
	t, ok := jobTables[kind]
	if !ok {
		return jobTable{}, errors.Newf("unknown job kind %q", kind)
	}
	return t, nil
}

// selectList is the column list every job query reads, in scan order.
func (t jobTable) selectList() string {
	names := []string{"id", "created_at", "updated_at"}
	for _, c := range t.columns {
		names = append(names, c.name)
	}
	return strings.Join(names, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t jobTable) scan(row rowScanner, kind models.JobKind) (*models.Job, error) {
	job := &models.Job{Kind: kind}
	dest := []any{&job.ID, &job.CreatedAt, &job.UpdatedAt}
	for _, c := range t.columns {
		dest = append(dest, c.dest(job))
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return job, nil
}

func (t jobTable) scanAll(rows *sql.Rows, kind models.JobKind) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		job, err := t.scan(rows, kind)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", t.name)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", t.name)
	}
	return jobs, nil
}
