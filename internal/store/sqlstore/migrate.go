package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Migrate executes DDL statements in order. Objects that already exist are
// skipped, so migrations only ever add.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, stmts []string, log *zap.Logger) error {
	applied, skipped := 0, 0
	for _, stmt := range stmts {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if d.AlreadyExists(err) {
				skipped++
				log.Debug("DDL skipped (already exists)", zap.String("stmt", firstLine(stmt)), zap.Error(err))
				continue
			}
			return fmt.Errorf("apply DDL %q: %w", firstLine(stmt), err)
		}
		applied++
	}
	log.Info("schema migrated", zap.String("dialect", d.Name()), zap.Int("applied", applied), zap.Int("skipped", skipped))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
