// Package memory is the default Store: every kind lives in process memory
// behind one RWMutex.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
)

type table struct {
	byID  map[string]*model.Entity
	order []string
	// unique[field][value] = id
	unique map[string]map[string]string
}

type Store struct {
	mu   sync.RWMutex
	reg  *schema.Registry
	data map[string]*table
	ids  *store.IDGenerator
}

var _ store.Store = (*Store)(nil)

// New prepares an empty table for every registered kind.
func New(reg *schema.Registry) *Store {
	s := &Store{
		reg:  reg,
		data: make(map[string]*table),
		ids:  store.NewIDGenerator(),
	}
	for _, name := range reg.ListKinds() {
		k, _ := reg.Describe(name)
		t := &table{byID: make(map[string]*model.Entity), unique: make(map[string]map[string]string)}
		for _, u := range k.UniqueFields {
			t.unique[u] = make(map[string]string)
		}
		s.data[name] = t
	}
	return s
}

func (s *Store) kind(ctx context.Context, name string) (*schema.EntityKind, *table, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, model.Unavailable("memory", err)
	}
	k, err := s.reg.Describe(name)
	if err != nil {
		return nil, nil, err
	}
	return k, s.data[k.Name], nil
}

func (s *Store) Create(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	k, t, err := s.kind(ctx, e.Kind)
	if err != nil {
		return nil, err
	}
	rec := e.Clone()
	rec.Kind = k.Name

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.ids.New()
	}
	if _, exists := t.byID[rec.ID]; exists {
		return nil, fmt.Errorf("memory: %s %q already exists", k.Name, rec.ID)
	}
	if err := s.checkWrite(k, t, rec, ""); err != nil {
		return nil, err
	}
	t.byID[rec.ID] = rec
	t.order = append(t.order, rec.ID)
	t.index(rec)
	return rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	k, t, err := s.kind(ctx, e.Kind)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := t.byID[e.ID]
	if !ok {
		return nil, model.NotFound(k.Name, e.ID)
	}
	next := cur.Clone()
	next.Fields = model.CloneFields(e.Fields)
	next.UpdatedAt = e.UpdatedAt
	if err := s.checkWrite(k, t, next, cur.ID); err != nil {
		return nil, err
	}
	t.unindex(cur)
	t.byID[cur.ID] = next
	t.index(next)
	return next.Clone(), nil
}

// checkWrite enforces uniqueness and reference existence. Caller holds mu.
func (s *Store) checkWrite(k *schema.EntityKind, t *table, rec *model.Entity, self string) error {
	var errs []model.FieldError
	for _, f := range k.Fields {
		v, present := rec.Fields[f.Name]
		if !present || v == nil {
			continue
		}
		if f.IsReference() {
			target := s.data[f.Target]
			for _, id := range model.RefIDs(v) {
				if _, ok := target.byID[id]; !ok {
					errs = append(errs, model.NewFieldError(model.CodeDanglingReference, k.Name, f.Name,
						fmt.Sprintf("%s %q does not exist", f.Target, id)))
					break
				}
			}
		}
		if idx, ok := t.unique[f.Name]; ok {
			if owner, taken := idx[valueKey(v)]; taken && owner != self {
				errs = append(errs, model.NewFieldError(model.CodeDuplicateValue, k.Name, f.Name,
					fmt.Sprintf("value %v is already used", v)))
			}
		}
	}
	return model.NewValidationError(k.Name, errs)
}

func (t *table) index(rec *model.Entity) {
	for field, idx := range t.unique {
		if v, ok := rec.Fields[field]; ok && v != nil {
			idx[valueKey(v)] = rec.ID
		}
	}
}

func (t *table) unindex(rec *model.Entity) {
	for field, idx := range t.unique {
		if v, ok := rec.Fields[field]; ok && v != nil {
			if idx[valueKey(v)] == rec.ID {
				delete(idx, valueKey(v))
			}
		}
	}
}

func (s *Store) GetByID(ctx context.Context, kind, id string) (*model.Entity, error) {
	k, t, err := s.kind(ctx, kind)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := t.byID[id]
	if !ok {
		return nil, model.NotFound(k.Name, id)
	}
	return rec.Clone(), nil
}

func (s *Store) FindByCode(ctx context.Context, kind, code string) (*model.Entity, error) {
	return s.FindByField(ctx, kind, "code", code)
}

func (s *Store) FindByField(ctx context.Context, kind, field string, value any) (*model.Entity, error) {
	k, t, err := s.kind(ctx, kind)
	if err != nil {
		return nil, err
	}
	key := valueKey(value)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := t.unique[field]; ok {
		if id, found := idx[key]; found {
			return t.byID[id].Clone(), nil
		}
		return nil, model.NotFound(k.Name, "")
	}
	for _, id := range t.order {
		rec := t.byID[id]
		if v, ok := rec.Fields[field]; ok && v != nil && valueKey(v) == key {
			return rec.Clone(), nil
		}
	}
	return nil, model.NotFound(k.Name, "")
}

func (s *Store) List(ctx context.Context, kind string, f store.Filter) (store.Page, error) {
	k, t, err := s.kind(ctx, kind)
	if err != nil {
		return store.Page{}, err
	}

	s.mu.RLock()
	matched := make([]*model.Entity, 0, len(t.order))
	for _, id := range t.order {
		if rec := t.byID[id]; f.Match(k, rec) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	store.SortEntities(matched, f.Sort)
	window := store.Window(matched, f.Offset, f.Limit)
	items := make([]*model.Entity, len(window))
	for i, rec := range window {
		items[i] = rec.Clone()
	}
	return store.Page{Items: items, Total: len(matched)}, nil
}

func (s *Store) SetBlocked(ctx context.Context, kind, id string, blocked bool, at time.Time) (*model.Entity, error) {
	k, t, err := s.kind(ctx, kind)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := t.byID[id]
	if !ok {
		return nil, model.NotFound(k.Name, id)
	}
	next := cur.Clone()
	next.IsBlocked = blocked
	next.UpdatedAt = at
	t.byID[id] = next
	return next.Clone(), nil
}

func (s *Store) FindReferencing(ctx context.Context, kind, field string, many bool, targetID string, limit int) ([]*model.Entity, error) {
	_, t, err := s.kind(ctx, kind)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Entity
	for _, id := range t.order {
		rec := t.byID[id]
		for _, ref := range model.RefIDs(rec.Fields[field]) {
			if ref == targetID {
				out = append(out, rec.Clone())
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op; data lives only as long as the process.
func (s *Store) Close() error { return nil }

func valueKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return "n:" + strconv.Itoa(t)
	case bool:
		return "b:" + strconv.FormatBool(t)
	}
	return fmt.Sprintf("x:%v", v)
}
