package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mdcatalog/internal/schema"
)

// Dialect isolates the SQL differences between the supported engines.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver registered for the dialect.
	DriverName() string
	Placeholder(n int) string
	// Table returns the quoted, qualified table name of a kind.
	Table(k *schema.EntityKind) string
	ColumnType(f schema.FieldDescriptor) string
	TimestampType() string
	BoolLiteral(b bool) string
	// CreateSchema returns the statement creating a module namespace, or "".
	CreateSchema(module string) string
	AddColumn(table, column, typ string) string
	ForeignKeys() bool
	// ListContains matches a JSON list column holding the id bound at placeholder ph.
	ListContains(column, ph string) string
	EncodeTime(t time.Time) any
	// Constraint maps a driver error to the violated constraint.
	Constraint(err error) (violation, bool)
	// AlreadyExists reports DDL errors that a re-run of the migration hits.
	AlreadyExists(err error) bool
}

type violationKind int

const (
	uniqueViolation violationKind = iota + 1
	foreignKeyViolation
)

// violation names the index or column a write tripped over.
type violation struct {
	kind violationKind
	// name is a constraint name (postgres) or table.column (sqlite).
	name string
}

// DialectFor returns the dialect of a store driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unknown sql dialect %q (postgres|sqlite)", driver)
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// plural lowercases an entity name and pluralizes it well enough for table
// names: region -> regions, territory -> territories.
func plural(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

func tableName(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

// column is the storage column of a declared field.
func column(f schema.FieldDescriptor) string { return strings.ToLower(f.Name) }

func defaultLiteral(d Dialect, f schema.FieldDescriptor) string {
	switch v := f.Default.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return d.BoolLiteral(v)
	}
	return ""
}

const (
	colID        = "id"
	colBlocked   = "is_blocked"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

var systemColumns = map[string]string{
	"id":        colID,
	"isBlocked": colBlocked,
	"createdAt": colCreatedAt,
	"updatedAt": colUpdatedAt,
}
