// Package storetest opens migrated SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
)

// DSN returns a file DSN under dir. Write transactions start with BEGIN
// IMMEDIATE, so the per-transaction lock serialises like a row lock.
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "reconciler.db") + "?_txlock=immediate&_busy_timeout=10000"
}

// New opens a fresh migrated SQLite store that is closed with the test.
func New(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite3", DSN(t.TempDir()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.RunMigrations(ctx))
	return st
}

// Clock is a settable time source for store.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SeedTransaction stores a transaction for orderID in the given state and returns it.
func SeedTransaction(t testing.TB, st *store.Store, orderID int64, state models.TransactionState) models.TransactionInfo {
	t.Helper()
	info := models.TransactionInfo{
		SpaceID:       7,
		TransactionID: 1000 + orderID,
		OrderID:       orderID,
		State:         state,
		Currency:      "CHF",

		AuthorizationAmount: decimal.RequireFromString("49.90"),
	}
	require.NoError(t, st.Transactions().Upsert(context.Background(), &info))
	return info
}
