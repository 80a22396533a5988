package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/store/storetest"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dsn := storetest.DSN(t.TempDir())
	t.Setenv("RECONCILER_CONFIG", "")
	t.Setenv("RECONCILER_DATABASE_DRIVER", "sqlite3")
	t.Setenv("RECONCILER_DATABASE_DSN", dsn)
	t.Setenv("RECONCILER_LOG_LEVEL", "error")
	return dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndAlerts(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied (sqlite3)")

	out, err = run(t, "alerts")
	require.NoError(t, err)
	assert.Contains(t, out, models.AlertFailedJobs)
	assert.Contains(t, out, models.AlertManualTask)
}

func TestJobsListAndMarkDone(t *testing.T) {
	dsn := setupEnv(t)
	ctx := context.Background()

	st, err := store.Open(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	require.NoError(t, st.RunMigrations(ctx))
	info := storetest.SeedTransaction(t, st, 42, models.TxAuthorized)
	job := models.NewJob(models.KindVoid, info)
	job.State = models.StateFailedCheck
	job.FailureReason = models.FailureReason{"de-DE": "Abgelehnt", "en-US": "Declined"}
	gatewayJob := int64(5001)
	job.JobID = &gatewayJob
	require.NoError(t, st.Jobs().Insert(ctx, job))
	require.NoError(t, st.Close())

	_, err = run(t, "jobs", "list")
	require.Error(t, err)

	out, err := run(t, "jobs", "list", "--order", "42", "--lang", "de-DE")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED_CHECK")
	assert.Contains(t, out, "Abgelehnt")
	assert.Contains(t, out, "running: false, refunded: 0.00")

	_, err = run(t, "jobs", "list", "--order", "77")
	assert.ErrorIs(t, err, store.ErrNotFound)

	out, err = run(t, "jobs", "find", "--space", "7", "--gateway-job", "5001")
	require.NoError(t, err)
	assert.Contains(t, out, "order 42")
	assert.Contains(t, out, "void")
	_, err = run(t, "jobs", "find", "--space", "7", "--gateway-job", "5001", "--refund-id", "r-42-1")
	require.Error(t, err)

	out, err = run(t, "jobs", "mark-done", "--order", "42", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed job(s) of order 42 would be marked as done")

	out, err = run(t, "jobs", "mark-done", "--order", "42", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed job(s) of order 42 marked as done")

	out, err = run(t, "jobs", "mark-done", "--order", "42", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 failed job(s) of order 42 would be marked as done")
}

func TestCronListEmpty(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "cron", "list", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "STATE")
}
