package store

import "github.com/cockroachdb/errors"

// dialect captures the few places where Postgres and SQLite disagree.
// Queries use $N placeholders in ascending order of first use, which both accept.
type dialect struct {
	name string
	// forUpdate is appended to row-lock reads. SQLite write transactions are
	// already exclusive (opened with _txlock=immediate), so it has none.
	forUpdate string
	// greatest is the two-argument max function.
	greatest string
}

var (
	postgresDialect = dialect{name: "postgres", forUpdate: " FOR UPDATE", greatest: "GREATEST"}
	sqliteDialect   = dialect{name: "sqlite", forUpdate: "", greatest: "MAX"}
)

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case "pgx", "postgres":
		return postgresDialect, nil
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	default:
		return dialect{}, errors.Newf("unsupported database driver %q", driverName)
	}
}
