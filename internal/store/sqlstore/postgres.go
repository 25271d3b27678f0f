package sqlstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx

	"mdcatalog/internal/schema"
)

// Postgres keeps one schema per module and one table per kind.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) DriverName() string       { return "pgx" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) Table(k *schema.EntityKind) string {
	return sqlIdent(k.Module) + "." + sqlIdent(tableName(k.Name))
}

func (Postgres) ColumnType(f schema.FieldDescriptor) string {
	switch {
	case f.Many, f.Type == schema.TypeJSON:
		return "jsonb"
	case f.Type == schema.TypeNumber:
		return "double precision"
	case f.Type == schema.TypeBoolean:
		return "boolean"
	}
	return "text"
}

func (Postgres) TimestampType() string { return "timestamp with time zone" }

func (Postgres) BoolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (Postgres) CreateSchema(module string) string {
	return fmt.Sprintf("create schema if not exists %s", sqlIdent(module))
}

func (Postgres) AddColumn(table, col, typ string) string {
	return fmt.Sprintf("alter table %s add column if not exists %s %s", table, sqlIdent(col), typ)
}

func (Postgres) ForeignKeys() bool { return true }

func (Postgres) ListContains(col, ph string) string {
	return fmt.Sprintf("%s @> jsonb_build_array(%s::text)", sqlIdent(col), ph)
}

func (Postgres) EncodeTime(t time.Time) any { return t.UTC() }

func (Postgres) Constraint(err error) (violation, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return violation{}, false
	}
	switch pgErr.Code {
	case "23505":
		return violation{kind: uniqueViolation, name: pgErr.ConstraintName}, true
	case "23503":
		return violation{kind: foreignKeyViolation, name: pgErr.ConstraintName}, true
	}
	return violation{}, false
}

// AlreadyExists reports DDL errors a re-run may legitimately hit.
func (Postgres) AlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// duplicate_object, duplicate_table, duplicate_schema, duplicate_column
		switch pgErr.Code {
		case "42710", "42P07", "42P06", "42701":
			return true
		}
	}
	return false
}
