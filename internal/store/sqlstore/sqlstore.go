// Package sqlstore keeps entities in PostgreSQL or SQLite, one table per
// kind, with uniqueness enforced by unique indexes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // driver: sqlite

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
)

// Options configures Open.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type Store struct {
	db     *sql.DB
	d      Dialect
	reg    *schema.Registry
	tables map[string]*tableInfo
	ids    *store.IDGenerator
	log    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and optionally migrates.
func Open(ctx context.Context, opts Options, reg *schema.Registry, log *zap.Logger) (*Store, error) {
	d, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if d.Name() == "sqlite" {
		// one writer at a time; concurrent connections would fail with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}

	s, err := New(db, d, reg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if opts.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an open database.
func New(db *sql.DB, d Dialect, reg *schema.Registry, log *zap.Logger) (*Store, error) {
	tables, err := buildTables(reg, d)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, d: d, reg: reg, tables: tables, ids: store.NewIDGenerator(), log: log}, nil
}

// Migrate creates or extends every kind's table.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := GenerateDDL(s.reg, s.d)
	if err != nil {
		return err
	}
	return Migrate(ctx, s.db, s.d, stmts, s.log)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.Unavailable("sqlstore ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) table(kind string) (*tableInfo, error) {
	k, err := s.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	return s.tables[k.Name], nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) selectList(t *tableInfo) string {
	cols := []string{sqlIdent(colID), sqlIdent(colBlocked), sqlIdent(colCreatedAt), sqlIdent(colUpdatedAt)}
	for _, f := range t.kind.Fields {
		cols = append(cols, sqlIdent(column(f)))
	}
	return strings.Join(cols, ", ")
}

type scanner interface{ Scan(dest ...any) error }

func (s *Store) scan(t *tableInfo, row scanner) (*model.Entity, error) {
	raw := make([]any, 4+len(t.kind.Fields))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}

	e := &model.Entity{Kind: t.kind.Name, Fields: make(map[string]any, len(t.kind.Fields))}
	var err error
	switch id := raw[0].(type) {
	case string:
		e.ID = id
	case []byte:
		e.ID = string(id)
	}
	if e.IsBlocked, err = decodeBool(raw[1]); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = decodeTime(raw[2]); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = decodeTime(raw[3]); err != nil {
		return nil, err
	}
	for i, f := range t.kind.Fields {
		v, err := decode(f, raw[4+i])
		if err != nil {
			return nil, err
		}
		if v != nil {
			e.Fields[f.Name] = v
		}
	}
	return e, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapErr turns driver errors into the catalog's error taxonomy.
func (s *Store) mapErr(t *tableInfo, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound) {
		return err
	}
	if v, ok := s.d.Constraint(err); ok {
		field := t.fieldFor(v.name)
		switch v.kind {
		case uniqueViolation:
			return model.NewValidationError(t.kind.Name, []model.FieldError{
				model.NewFieldError(model.CodeDuplicateValue, t.kind.Name, field, "value is already used"),
			})
		case foreignKeyViolation:
			return model.NewValidationError(t.kind.Name, []model.FieldError{
				model.NewFieldError(model.CodeDanglingReference, t.kind.Name, field, "referenced entity does not exist"),
			})
		}
	}
	return model.Unavailable("sqlstore "+op+" "+t.kind.Name, err)
}

// checkRefs verifies every referenced id exists in its target table.
func (s *Store) checkRefs(ctx context.Context, q querier, t *tableInfo, fields map[string]any) error {
	var errs []model.FieldError
	for _, f := range t.kind.References() {
		target := s.tables[f.Target]
		for _, id := range model.RefIDs(fields[f.Name]) {
			var one int
			err := q.QueryRowContext(ctx,
				fmt.Sprintf("select 1 from %s where %s = %s", target.name, sqlIdent(colID), s.d.Placeholder(1)), id).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				errs = append(errs, model.NewFieldError(model.CodeDanglingReference, t.kind.Name, f.Name,
					fmt.Sprintf("%s %q does not exist", f.Target, id)))
				break
			}
			if err != nil {
				return err
			}
		}
	}
	return model.NewValidationError(t.kind.Name, errs)
}

func (s *Store) Create(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	t, err := s.table(e.Kind)
	if err != nil {
		return nil, err
	}
	rec := e.Clone()
	rec.Kind = t.kind.Name
	if rec.ID == "" {
		rec.ID = s.ids.New()
	}

	cols := []string{sqlIdent(colID), sqlIdent(colBlocked), sqlIdent(colCreatedAt), sqlIdent(colUpdatedAt)}
	args := []any{rec.ID, rec.IsBlocked, s.d.EncodeTime(rec.CreatedAt), s.d.EncodeTime(rec.UpdatedAt)}
	for _, f := range t.kind.Fields {
		v, err := encode(f, rec.Fields[f.Name])
		if err != nil {
			return nil, err
		}
		cols = append(cols, sqlIdent(column(f)))
		args = append(args, v)
	}
	phs := make([]string, len(args))
	for i := range phs {
		phs[i] = s.d.Placeholder(i + 1)
	}
	query := fmt.Sprintf("insert into %s (%s) values (%s)", t.name, strings.Join(cols, ", "), strings.Join(phs, ", "))

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkRefs(ctx, tx, t, rec.Fields); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, s.mapErr(t, "create", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	t, err := s.table(e.Kind)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	for _, f := range t.kind.Fields {
		v, err := encode(f, e.Fields[f.Name])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", sqlIdent(column(f)), s.d.Placeholder(len(args))))
	}
	args = append(args, s.d.EncodeTime(e.UpdatedAt))
	sets = append(sets, fmt.Sprintf("%s = %s", sqlIdent(colUpdatedAt), s.d.Placeholder(len(args))))
	args = append(args, e.ID)
	query := fmt.Sprintf("update %s set %s where %s = %s", t.name, strings.Join(sets, ", "), sqlIdent(colID), s.d.Placeholder(len(args)))

	var out *model.Entity
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.get(ctx, tx, t, e.ID); err != nil {
			return err
		}
		if err := s.checkRefs(ctx, tx, t, e.Fields); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		out, err = s.get(ctx, tx, t, e.ID)
		return err
	})
	if err != nil {
		return nil, s.mapErr(t, "update", err)
	}
	return out, nil
}

func (s *Store) get(ctx context.Context, q querier, t *tableInfo, id string) (*model.Entity, error) {
	query := fmt.Sprintf("select %s from %s where %s = %s", s.selectList(t), t.name, sqlIdent(colID), s.d.Placeholder(1))
	e, err := s.scan(t, q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound(t.kind.Name, id)
	}
	return e, err
}

func (s *Store) GetByID(ctx context.Context, kind, id string) (*model.Entity, error) {
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	e, err := s.get(ctx, s.db, t, id)
	if err != nil {
		return nil, s.mapErr(t, "get", err)
	}
	return e, nil
}

func (s *Store) FindByCode(ctx context.Context, kind, code string) (*model.Entity, error) {
	return s.FindByField(ctx, kind, "code", code)
}

func (s *Store) FindByField(ctx context.Context, kind, field string, value any) (*model.Entity, error) {
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	f, ok := t.kind.Field(field)
	if !ok {
		return nil, model.NotFound(t.kind.Name, "")
	}
	ph := s.d.Placeholder(1)
	cond := fmt.Sprintf("%s = %s", sqlIdent(column(f)), ph)
	arg, err := encode(f, value)
	if err != nil {
		return nil, err
	}
	if f.Many {
		cond, arg = s.d.ListContains(column(f), ph), value
	}
	query := fmt.Sprintf("select %s from %s where %s order by %s limit 1", s.selectList(t), t.name, cond, sqlIdent(colID))
	e, err := s.scan(t, s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound(t.kind.Name, "")
	}
	if err != nil {
		return nil, s.mapErr(t, "find", err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, kind string, f store.Filter) (store.Page, error) {
	t, err := s.table(kind)
	if err != nil {
		return store.Page{}, err
	}
	var args []any
	where, err := s.where(t, f, &args)
	if err != nil {
		return store.Page{}, err
	}

	var total int
	countQuery := fmt.Sprintf("select count(*) from %s%s", t.name, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return store.Page{}, s.mapErr(t, "count", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf("select %s from %s%s order by %s limit %s offset %s",
		s.selectList(t), t.name, where, s.orderBy(t, f.Sort), s.d.Placeholder(len(args)-1), s.d.Placeholder(len(args)))

	items, err := s.query(ctx, t, query, args...)
	if err != nil {
		return store.Page{}, s.mapErr(t, "list", err)
	}
	return store.Page{Items: items, Total: total}, nil
}

func (s *Store) query(ctx context.Context, t *tableInfo, query string, args ...any) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*model.Entity{}
	for rows.Next() {
		e, err := s.scan(t, rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *Store) SetBlocked(ctx context.Context, kind, id string, blocked bool, at time.Time) (*model.Entity, error) {
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("update %s set %s = %s, %s = %s where %s = %s", t.name,
		sqlIdent(colBlocked), s.d.Placeholder(1), sqlIdent(colUpdatedAt), s.d.Placeholder(2), sqlIdent(colID), s.d.Placeholder(3))
	res, err := s.db.ExecContext(ctx, query, blocked, s.d.EncodeTime(at), id)
	if err != nil {
		return nil, s.mapErr(t, "block", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, model.NotFound(t.kind.Name, id)
	}
	return s.GetByID(ctx, t.kind.Name, id)
}

func (s *Store) FindReferencing(ctx context.Context, kind, field string, many bool, targetID string, limit int) ([]*model.Entity, error) {
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	f, ok := t.kind.Field(field)
	if !ok {
		return nil, fmt.Errorf("%s has no field %q", t.kind.Name, field)
	}
	cond := fmt.Sprintf("%s = %s", sqlIdent(column(f)), s.d.Placeholder(1))
	if many || f.Many {
		cond = s.d.ListContains(column(f), s.d.Placeholder(1))
	}
	query := fmt.Sprintf("select %s from %s where %s order by %s", s.selectList(t), t.name, cond, sqlIdent(colID))
	args := []any{targetID}
	if limit > 0 {
		query += " limit " + s.d.Placeholder(2)
		args = append(args, limit)
	}
	items, err := s.query(ctx, t, query, args...)
	if err != nil {
		return nil, s.mapErr(t, "referencing", err)
	}
	return items, nil
}
