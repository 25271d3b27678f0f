// Package blocking flips the isBlocked status of entities and answers which
// references a block restricts. Blocking never cascades writes: existing
// links stay valid and only new references can be refused.
package blocking

import (
	"context"
	"errors"
	"time"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
)

// Store is the part of the catalog store the engine needs.
type Store interface {
	GetByID(ctx context.Context, kind, id string) (*model.Entity, error)
	SetBlocked(ctx context.Context, kind, id string, blocked bool, at time.Time) (*model.Entity, error)
	FindReferencing(ctx context.Context, kind, field string, many bool, targetID string, limit int) ([]*model.Entity, error)
}

// PropagationResult describes one status change.
type PropagationResult struct {
	Entity          *model.Entity `json:"entity"`
	PreviousBlocked bool          `json:"previousBlocked"`
	Blocked         bool          `json:"blocked"`
	// Changed is false when the entity already had the requested status.
	Changed bool `json:"changed"`
	// RestrictedKinds lists kinds whose new references to the entity are
	// now refused in strict mode.
	RestrictedKinds []string `json:"restrictedKinds"`
}

// Dependent is one entity that references the inspected target.
type Dependent struct {
	Kind   string        `json:"kind"`
	Field  string        `json:"field"`
	Entity *model.Entity `json:"entity"`
}

type Engine struct {
	reg   *schema.Registry
	store Store
	now   func() time.Time
}

func New(reg *schema.Registry, store Store) *Engine {
	return &Engine{reg: reg, store: store, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SetBlocked moves (kind, id) to the requested status. Requesting the
// current status is a no-op that writes nothing.
func (e *Engine) SetBlocked(ctx context.Context, kindName, id string, blocked bool) (*PropagationResult, error) {
	k, err := e.reg.Describe(kindName)
	if err != nil {
		return nil, err
	}
	cur, err := e.store.GetByID(ctx, k.Name, id)
	if err != nil {
		return nil, model.Unavailable("get "+k.Name, err)
	}

	res := &PropagationResult{
		Entity:          cur,
		PreviousBlocked: cur.IsBlocked,
		Blocked:         blocked,
		RestrictedKinds: []string{},
	}
	if blocked {
		res.RestrictedKinds = e.restrictedKinds(k.Name)
	}
	if cur.IsBlocked == blocked {
		return res, nil
	}

	updated, err := e.store.SetBlocked(ctx, k.Name, id, blocked, e.now().UTC())
	if err != nil {
		return nil, model.Unavailable("set blocked "+k.Name, err)
	}
	res.Entity = updated
	res.Changed = true
	return res, nil
}

func (e *Engine) restrictedKinds(kind string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, edge := range e.reg.Dependents(kind) {
		if !seen[edge.Kind] {
			seen[edge.Kind] = true
			out = append(out, edge.Kind)
		}
	}
	return out
}

// BlockedPath walks references upward from (kind, id) and returns the path
// to the first blocked entity, starting with (kind, id) itself. It returns
// nil when nothing on the chain is blocked.
func (e *Engine) BlockedPath(ctx context.Context, kind, id string) ([]model.Ref, error) {
	visited := make(map[model.Ref]bool)
	return e.walk(ctx, model.Ref{Kind: kind, ID: id}, visited)
}

func (e *Engine) walk(ctx context.Context, at model.Ref, visited map[model.Ref]bool) ([]model.Ref, error) {
	if visited[at] {
		return nil, nil
	}
	visited[at] = true

	ent, err := e.store.GetByID(ctx, at.Kind, at.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Unavailable("walk "+at.Kind, err)
	}
	if ent.IsBlocked {
		return []model.Ref{at}, nil
	}

	k, err := e.reg.Describe(at.Kind)
	if err != nil {
		return nil, err
	}
	for _, f := range k.References() {
		for _, ref := range model.RefIDs(ent.Fields[f.Name]) {
			path, err := e.walk(ctx, model.Ref{Kind: f.Target, ID: ref}, visited)
			if err != nil {
				return nil, err
			}
			if len(path) > 0 {
				return append([]model.Ref{at}, path...), nil
			}
		}
	}
	return nil, nil
}

// Dependents lists entities that currently reference (kind, id), following
// the registry's reverse edges. limit caps the total; <= 0 means no cap.
func (e *Engine) Dependents(ctx context.Context, kindName, id string, limit int) ([]Dependent, error) {
	k, err := e.reg.Describe(kindName)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetByID(ctx, k.Name, id); err != nil {
		return nil, model.Unavailable("get "+k.Name, err)
	}

	out := []Dependent{}
	for _, edge := range e.reg.Dependents(k.Name) {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		refs, err := e.store.FindReferencing(ctx, edge.Kind, edge.Field, edge.Many, id, remaining)
		if err != nil {
			return nil, model.Unavailable("find dependents of "+k.Name, err)
		}
		for _, r := range refs {
			out = append(out, Dependent{Kind: edge.Kind, Field: edge.Field, Entity: r})
		}
	}
	return out, nil
}
