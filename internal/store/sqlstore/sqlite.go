package sqlstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mdcatalog/internal/schema"
)

// SQLite flattens modules into a table prefix: <module>_<plural>.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) DriverName() string     { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Table(k *schema.EntityKind) string {
	return sqlIdent(strings.ToLower(k.Module) + "_" + tableName(k.Name))
}

func (SQLite) ColumnType(f schema.FieldDescriptor) string {
	switch {
	case f.Many, f.Type == schema.TypeJSON:
		return "text"
	case f.Type == schema.TypeNumber:
		return "real"
	case f.Type == schema.TypeBoolean:
		return "integer"
	}
	return "text"
}

func (SQLite) TimestampType() string { return "text" }

func (SQLite) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (SQLite) CreateSchema(string) string { return "" }

func (SQLite) AddColumn(table, col, typ string) string {
	return fmt.Sprintf("alter table %s add column %s %s", table, sqlIdent(col), typ)
}

func (SQLite) ForeignKeys() bool { return false }

func (SQLite) ListContains(col, ph string) string {
	return fmt.Sprintf("exists (select 1 from json_each(%s) where value = %s)", sqlIdent(col), ph)
}

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func (SQLite) EncodeTime(t time.Time) any { return t.UTC().Format(timeLayout) }

func (SQLite) Constraint(err error) (violation, bool) {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) || sqErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return violation{}, false
	}
	msg := sqErr.Error()
	switch {
	case sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY"):
		return violation{kind: foreignKeyViolation}, true
	case strings.Contains(msg, "UNIQUE constraint failed: "):
		// UNIQUE constraint failed: sales_salesregions.code (2067)
		name := msg[strings.LastIndex(msg, "failed: ")+len("failed: "):]
		if i := strings.IndexAny(name, " ,"); i >= 0 {
			name = name[:i]
		}
		return violation{kind: uniqueViolation, name: name}, true
	case sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return violation{kind: uniqueViolation}, true
	}
	return violation{}, false
}

func (SQLite) AlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column")
}
