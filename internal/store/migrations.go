package store

import (
	"context"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// RunMigrations executes the embedded SQL migrations for the store's dialect in order.
// Every statement is idempotent, so it is safe to run on each start.
func (s *Store) RunMigrations(ctx context.Context) error {
	dir := path.Join("migrations", s.dialect.name)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read migrations dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return errors.Wrapf(err, "read migration %s", e.Name())
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "exec migration %s", e.Name())
		}
	}
	return nil
}
