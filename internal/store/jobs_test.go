package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/store/storetest"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newJob(kind models.JobKind, orderID int64) *models.Job {
	return models.NewJob(kind, models.TransactionInfo{SpaceID: 7, TransactionID: 1000 + orderID, OrderID: orderID})
}

func TestSaveKeepsCreatedAtAndRefreshesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(epoch)
	st := storetest.New(t, store.WithClock(clock.Now))
	repo := st.Jobs()

	job := newJob(models.KindCompletion, 42)
	job.Amount = decimal.NewNullDecimal(decimal.RequireFromString("49.90"))
	require.NoError(t, repo.Save(ctx, job))
	require.NotZero(t, job.ID)
	assert.Equal(t, epoch, job.CreatedAt)

	clock.Advance(time.Minute)
	id := int64(9001)
	job.JobID = &id
	job.State = models.StateSent
	job.Labels = models.Labels{{ID: "1", Value: "visa"}}
	require.NoError(t, repo.Save(ctx, job))

	got, found, err := repo.Get(ctx, models.KindCompletion, job.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StateSent, got.State)
	require.NotNil(t, got.JobID)
	assert.Equal(t, int64(9001), *got.JobID)
	assert.Equal(t, models.Labels{{ID: "1", Value: "visa"}}, got.Labels)
	assert.True(t, got.Amount.Decimal.Equal(decimal.RequireFromString("49.9")))
	assert.True(t, got.CreatedAt.Equal(epoch))
	assert.True(t, got.UpdatedAt.Equal(epoch.Add(time.Minute)))
}

func TestSaveUnknownJobIsNotFound(t *testing.T) {
	st := storetest.New(t)
	job := newJob(models.KindVoid, 1)
	job.ID = 404
	err := st.Jobs().Save(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetMissingJobIsEmptyNotError(t *testing.T) {
	st := storetest.New(t)
	job, found, err := st.Jobs().Get(context.Background(), models.KindRefund, 12)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, job)
}

func TestRefundColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	repo := st.Jobs()

	job := newJob(models.KindRefund, 42)
	job.ExternalID = "r-42-1"
	job.Restock = true
	job.ReductionItems = models.Reductions{{
		LineItemID:         "sku-1",
		QuantityReduction:  decimal.NewFromInt(2),
		UnitPriceReduction: decimal.Zero,
	}}
	job.FailureReason = models.FailureReason{"de-DE": "abgelehnt"}
	require.NoError(t, repo.Insert(ctx, job))

	got, found, err := repo.LoadRefundByExternalID(ctx, 7, "r-42-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Restock)
	assert.True(t, got.ReductionItems.Equal(job.ReductionItems))
	assert.Equal(t, "abgelehnt", got.FailureReason.Translate("en-US"))
	assert.False(t, got.Amount.Valid)
	assert.Nil(t, got.JobID)
}

func TestRunningQueriesExcludeTerminalStates(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	repo := st.Jobs()

	for _, state := range []models.JobState{models.StateSuccess, models.StateFailedCheck, models.StateFailedDone} {
		job := newJob(models.KindCompletion, 42)
		job.State = state
		require.NoError(t, repo.Insert(ctx, job))
	}

	n, err := repo.CountRunningForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, found, err := repo.LoadRunningForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.False(t, found)

	sent := newJob(models.KindCompletion, 42)
	sent.State = models.StateSent
	require.NoError(t, repo.Insert(ctx, sent))
	require.NoError(t, repo.Insert(ctx, newJob(models.KindRefund, 42)))
	require.NoError(t, repo.Insert(ctx, newJob(models.KindVoid, 43)))

	n, err = repo.CountRunningForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	running, found, err := repo.LoadRunningForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sent.ID, running.ID)

	_, found, err = repo.LoadNotSentForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.False(t, found, "SENT is running but not CREATED")

	total, err := repo.CountRunningForOrderAllKinds(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestLoadNotSentHonoursPeriod(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(epoch)
	st := storetest.New(t, store.WithClock(clock.Now))
	repo := st.Jobs()

	old := newJob(models.KindVoid, 1)
	require.NoError(t, repo.Insert(ctx, old))
	clock.Advance(8 * time.Minute)
	fresh := newJob(models.KindVoid, 2)
	require.NoError(t, repo.Insert(ctx, fresh))
	clock.Advance(3 * time.Minute)

	jobs, err := repo.LoadNotSent(ctx, models.KindVoid, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobs[0].ID)

	has, err := repo.HasNotSent(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = repo.HasNotSent(ctx, time.Hour)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLoadOldestCheckableOrdersByUpdatedAtThenID(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(epoch)
	st := storetest.New(t, store.WithClock(clock.Now))
	repo := st.Jobs()

	_, found, err := repo.LoadOldestCheckable(ctx, models.KindRefund)
	require.NoError(t, err)
	assert.False(t, found)

	var ids []int64
	for i := 0; i < 3; i++ {
		job := newJob(models.KindRefund, int64(10+i))
		job.State = models.StateFailedCheck
		require.NoError(t, repo.Insert(ctx, job))
		ids = append(ids, job.ID)
	}
	clock.Advance(time.Minute)
	first, _, err := repo.Get(ctx, models.KindRefund, ids[0])
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	oldest, found, err := repo.LoadOldestCheckable(ctx, models.KindRefund)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ids[1], oldest.ID, "same updated_at, lower id wins")
}

func TestMarkFailedAsDone(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	repo := st.Jobs()

	for i := 0; i < 2; i++ {
		job := newJob(models.KindCompletion, 42)
		job.State = models.StateFailedCheck
		require.NoError(t, repo.Insert(ctx, job))
	}
	other := newJob(models.KindCompletion, 43)
	other.State = models.StateFailedCheck
	require.NoError(t, repo.Insert(ctx, other))

	n, err := repo.MarkFailedAsDone(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	failed, err := repo.LoadFailedCheckedForOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	assert.Empty(t, failed)
	failed, err = repo.LoadFailedCheckedForOrder(ctx, models.KindCompletion, 43)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	all, err := repo.LoadByOrder(ctx, models.KindCompletion, 42)
	require.NoError(t, err)
	for _, j := range all {
		assert.Equal(t, models.StateFailedDone, j.State)
	}
}

func TestLookupsByJobAndRefundTotals(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	repo := st.Jobs()

	for i, amount := range []string{"10.50", "4.25", "99"} {
		job := newJob(models.KindRefund, 42)
		job.ExternalID = fmt.Sprintf("r-42-%d", i+1)
		jobID := int64(500 + i)
		job.JobID = &jobID
		job.Amount = decimal.NewNullDecimal(decimal.RequireFromString(amount))
		job.State = models.StateSuccess
		if i == 2 {
			job.State = models.StateFailedCheck
		}
		require.NoError(t, repo.Insert(ctx, job))
	}

	total, err := repo.SumRefundedAmount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "14.75", total.StringFixed(2))

	n, err := repo.CountForOrder(ctx, models.KindRefund, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	job, found, err := repo.LoadByJob(ctx, models.KindRefund, 7, 501)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r-42-2", job.ExternalID)
}
