package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/store/storetest"
)

func TestLockTransactionUsesForUpdateOnPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st, err := store.New(db, "pgx")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT transaction_id FROM transaction_infos WHERE space_id = $1 AND transaction_id = $2 FOR UPDATE")).
		WithArgs(int64(7), int64(1042)).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow(int64(1042)))
	mock.ExpectRollback()

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	ok, err := tx.LockTransaction(context.Background(), 7, 1042)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockTransactionSurfacesStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st, err := store.New(db, "pgx")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	_, err = tx.LockTransaction(context.Background(), 7, 1042)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsupportedDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = store.New(db, "mysql")
	assert.Error(t, err)
}

func TestLockTransactionSerialisesWritersOnSQLite(t *testing.T) {
	assertWritersSerialise(t, storetest.New(t))
}

func TestOpenForcesImmediateTransactionsOnSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "plain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.RunMigrations(ctx))
	assertWritersSerialise(t, st)

	_, err = store.Open(ctx, "sqlite3", "file:"+filepath.Join(t.TempDir(), "deferred.db")+"?_txlock=deferred")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_txlock=deferred")
}

func assertWritersSerialise(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	info := storetest.SeedTransaction(t, st, 42, models.TxAuthorized)

	tx1, err := st.Begin(ctx)
	require.NoError(t, err)
	ok, err := tx1.LockTransaction(ctx, info.SpaceID, info.TransactionID)
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		tx2, err := st.Begin(ctx)
		if !assert.NoError(t, err) {
			close(acquired)
			return
		}
		defer tx2.Rollback()
		_, err = tx2.LockTransaction(ctx, info.SpaceID, info.TransactionID)
		assert.NoError(t, err)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while the first held it")
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, tx1.Commit())

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never acquired the lock")
	}
}

func TestLockTransactionReportsMissingRow(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	ok, err := tx.LockTransaction(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, store.IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, store.IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, store.IsUniqueViolation(errors.New("boom")))
	assert.False(t, store.IsUniqueViolation(nil))
}
