package jobs_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/gateway/gatewaytest"
	"payment-reconciler/internal/jobs"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/store/storetest"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestReconcilerSendsStuckJobsAndOneRecheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := storetest.SeedTransaction(t, f.store, 1, models.TxAuthorized)
	b := storetest.SeedTransaction(t, f.store, 2, models.TxAuthorized)
	c := storetest.SeedTransaction(t, f.store, 3, models.TxAuthorized)
	d := storetest.SeedTransaction(t, f.store, 4, models.TxAuthorized)

	// Two failed checks, the void being older.
	failedVoid, err := f.svc.Void.Create(ctx, c)
	require.NoError(t, err)
	f.gw.Reject("void", "not yet")
	_, err = f.svc.Void.Send(ctx, failedVoid)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	failedCapture, err := f.svc.Completion.Create(ctx, d)
	require.NoError(t, err)
	f.gw.Reject("capture", "not yet")
	_, err = f.svc.Completion.Send(ctx, failedCapture)
	require.NoError(t, err)

	stuck, err := f.svc.Completion.Create(ctx, a)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)
	fresh, err := f.svc.Void.Create(ctx, b)
	require.NoError(t, err)

	f.gw.SetManualTasks(4, nil)
	r := jobs.NewReconciler(f.svc, f.gw, jobs.ReconcilerConfig{NotSentPeriod: 10 * time.Minute, SpaceID: 7})
	require.NoError(t, r.Run(ctx))

	got, _, err := f.store.Jobs().Get(ctx, models.KindCompletion, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, got.State)

	got, _, err = f.store.Jobs().Get(ctx, models.KindVoid, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, got.State, "younger than the not-sent period")

	got, _, err = f.store.Jobs().Get(ctx, models.KindVoid, failedVoid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, got.State, "oldest failed check is re-sent")

	got, _, err = f.store.Jobs().Get(ctx, models.KindCompletion, failedCapture.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailedCheck, got.State, "one re-check per run")
	assert.Equal(t, int64(1), f.failedJobsAlert(t))

	manual, _, err := f.store.Alerts().Get(ctx, models.AlertManualTask)
	require.NoError(t, err)
	assert.Equal(t, int64(4), manual.Count)
}

func TestReconcilerContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := storetest.SeedTransaction(t, f.store, 1, models.TxAuthorized)
	b := storetest.SeedTransaction(t, f.store, 2, models.TxAuthorized)

	first, err := f.svc.Completion.Create(ctx, a)
	require.NoError(t, err)
	second, err := f.svc.Completion.Create(ctx, b)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	f.gw.FailTransport("capture")
	f.gw.SetManualTasks(0, errors.New("gateway down"))
	r := jobs.NewReconciler(f.svc, f.gw, jobs.ReconcilerConfig{SpaceID: 7})
	err = r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	got, _, err := f.store.Jobs().Get(ctx, models.KindCompletion, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, got.State)
	got, _, err = f.store.Jobs().Get(ctx, models.KindCompletion, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, got.State)
}

func TestReconcilerWithOnlyYoungJobsSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	info := storetest.SeedTransaction(t, f.store, 1, models.TxAuthorized)

	young, err := f.svc.Completion.Create(ctx, info)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	r := jobs.NewReconciler(f.svc, f.gw, jobs.ReconcilerConfig{NotSentPeriod: 10 * time.Minute, SpaceID: 7})
	require.NoError(t, r.Run(ctx))

	assert.Zero(t, f.gw.CallCount("capture"))
	assert.Equal(t, 1, f.gw.CallCount("manual_tasks"))
	got, _, err := f.store.Jobs().Get(ctx, models.KindCompletion, young.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, got.State)
}

var jobColumns = []string{"id", "created_at", "updated_at", "job_id", "state", "space_id",
	"transaction_id", "order_id", "labels", "failure_reason", "amount"}

func mockServices(t *testing.T) (sqlmock.Sqlmock, *jobs.Services, *gatewaytest.Fake) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := store.New(db, "pgx")
	require.NoError(t, err)
	gw := gatewaytest.New()
	return mock, jobs.NewServices(st, gw, nil), gw
}

func expectLockedJob(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM transaction_infos WHERE space_id = $1 AND transaction_id = $2 FOR UPDATE")).
		WithArgs(int64(7), int64(1042)).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow(int64(1042)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM completion_jobs WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow(int64(5), epoch, epoch, nil, "CREATED", int64(7), int64(1042), int64(42), "[]", nil, "49.90"))
}

func pendingCompletion() *models.Job {
	return &models.Job{ID: 5, Kind: models.KindCompletion, SpaceID: 7, TransactionID: 1042, OrderID: 42, State: models.StateCreated}
}

func TestTransportFailureRollsBack(t *testing.T) {
	mock, svc, gw := mockServices(t)
	expectLockedJob(mock)
	mock.ExpectRollback()

	gw.FailTransport("capture")
	_, err := svc.Completion.Send(context.Background(), pendingCompletion())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectionIsRecordedAgainWhenCommitFails(t *testing.T) {
	mock, svc, gw := mockServices(t)
	expectLockedJob(mock)
	mock.ExpectExec("UPDATE completion_jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts SET count = GREATEST(count + $1, 0)")).
		WithArgs(int64(1), models.AlertFailedJobs).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow(int64(1042)))
	mock.ExpectExec("UPDATE completion_jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE alerts SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	gw.Reject("capture", "insufficient funds")
	job, err := svc.Completion.Send(context.Background(), pendingCompletion())
	require.NoError(t, err)
	assert.Equal(t, models.StateFailedCheck, job.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeErrorCarriesBothFailures(t *testing.T) {
	mock, svc, gw := mockServices(t)
	expectLockedJob(mock)
	mock.ExpectExec("UPDATE completion_jobs SET").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	gw.Queue("capture", gateway.Operation{ID: 9001}, nil)
	_, err := svc.Completion.Send(context.Background(), pendingCompletion())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
