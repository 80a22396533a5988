package store

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that address a single row by key.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a database/sql pool for Postgres or SQLite persistence.
type Store struct {
	db      *sql.DB
	dialect dialect
	clock   func() time.Time
	timing  CronTiming
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for every stored timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithCronTiming overrides the claim table's scheduling delay, hang timeout and retention.
func WithCronTiming(t CronTiming) Option {
	return func(s *Store) {
		s.timing = t.withDefaults()
	}
}

// Open connects to the database identified by driverName ("pgx" or "sqlite3").
// SQLite DSNs are opened with _txlock=immediate, which the transaction lock
// depends on; any other _txlock is refused.
func Open(ctx context.Context, driverName, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	if d.name == sqliteDialect.name {
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driverName)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connect %s", driverName)
	}
	s, err := New(db, driverName, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. driverName selects the SQL dialect.
func New(db *sql.DB, driverName string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: d,
		clock:   time.Now,
		timing:  DefaultCronTiming(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// now is the store-assigned timestamp, UTC at microsecond precision so that
// both dialects round-trip it unchanged.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Jobs returns the job repository outside of any transaction.
func (s *Store) Jobs() *JobRepo {
	return &JobRepo{q: s.db, s: s}
}

// Transactions returns the transaction-info repository outside of any transaction.
func (s *Store) Transactions() *TransactionRepo {
	return &TransactionRepo{q: s.db, s: s}
}

// Alerts returns the alert counter repository outside of any transaction.
func (s *Store) Alerts() *AlertRepo {
	return &AlertRepo{q: s.db, s: s}
}

// Cron returns the claim table. It manages its own transactions.
func (s *Store) Cron() *CronRepo {
	return &CronRepo{s: s}
}

// Tx is an open store transaction. Every mutation made through its
// repositories is committed or rolled back together.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// Begin opens a store transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &Tx{tx: tx, s: s}, nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit, so it can be deferred.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rollback")
}

func (t *Tx) Jobs() *JobRepo {
	return &JobRepo{q: t.tx, s: t.s}
}

func (t *Tx) Transactions() *TransactionRepo {
	return &TransactionRepo{q: t.tx, s: t.s}
}

func (t *Tx) Alerts() *AlertRepo {
	return &AlertRepo{q: t.tx, s: t.s}
}

// IsUniqueViolation reports whether err is a unique-constraint violation from either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// sqliteDSN adds _txlock=immediate and a busy timeout unless already present.
func sqliteDSN(dsn string) (string, error) {
	_, query, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return "", errors.Wrap(err, "parse sqlite dsn")
	}

	var extra []string
	switch lock := params.Get("_txlock"); lock {
	case "immediate":
	case "":
		extra = append(extra, "_txlock=immediate")
	default:
		return "", errors.WithHint(errors.Newf("sqlite _txlock=%s is not supported", lock),
			"drop _txlock from database.dsn or set it to immediate")
	}
	if params.Get("_busy_timeout") == "" && params.Get("_timeout") == "" {
		extra = append(extra, "_busy_timeout=10000")
	}
	if len(extra) == 0 {
		return dsn, nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&"), nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}
