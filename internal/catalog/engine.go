// Package catalog orchestrates writes: validate, derive, check derived
// uniqueness, persist, then publish a change event. Nothing is written when a
// check fails.
package catalog

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"mdcatalog/internal/blocking"
	"mdcatalog/internal/derive"
	"mdcatalog/internal/events"
	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
	"mdcatalog/internal/validation"
	"mdcatalog/internal/worker"
)

type Engine struct {
	reg       *schema.Registry
	store     store.Store
	validator *validation.Engine
	derive    *derive.Computer
	blocks    *blocking.Engine
	pub       events.Publisher
	prefix    string
	pool      *worker.Pool
	log       *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sends change events to pub under subjects starting with prefix.
func WithPublisher(pub events.Publisher, prefix string) Option {
	return func(e *Engine) {
		e.pub = pub
		e.prefix = prefix
	}
}

// WithPool runs bulk imports on pool. Without it bulk items run one by one.
func WithPool(pool *worker.Pool) Option {
	return func(e *Engine) { e.pool = pool }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock replaces the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires the engines around st. The registry must be sealed.
func New(reg *schema.Registry, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		store:  st,
		derive: derive.New(),
		pub:    &events.NoopPublisher{},
		prefix: events.DefaultPrefix,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.blocks = blocking.New(reg, st).WithClock(func() time.Time { return e.now() })
	e.validator = validation.New(reg, st, e.blocks)
	return e
}

// Registry exposes the sealed schema.
func (e *Engine) Registry() *schema.Registry { return e.reg }

// Describe returns the schema of a kind.
func (e *Engine) Describe(kind string) (*schema.EntityKind, error) { return e.reg.Describe(kind) }

// Kinds lists kind names in dependency order.
func (e *Engine) Kinds() []string { return e.reg.ListKinds() }

// Create validates fields as a new entity of kind and stores it.
func (e *Engine) Create(ctx context.Context, kind string, fields map[string]any, strict bool) (*model.Entity, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	res, err := e.validator.Validate(ctx, k.Name, fields, validation.Options{Strict: strict})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	values, err := e.derived(ctx, k, res, "")
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	created, err := e.store.Create(ctx, &model.Entity{Kind: k.Name, Fields: values, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, model.Unavailable("create "+k.Name, err)
	}
	e.log.Debug("entity created", zap.String("kind", k.Name), zap.String("id", created.ID))
	e.publish(ctx, k.Name, events.ActionCreated, events.EntityCreated{Entity: created})
	return created, nil
}

// Update applies patch to the stored entity. Keys absent from patch keep
// their value; a nil value clears an optional field.
// Concurrent updates of one entity are last-writer-wins: each writes the
// full merged field set, so a parallel patch to other fields can be lost.
func (e *Engine) Update(ctx context.Context, kind, id string, patch map[string]any, strict bool) (*model.Entity, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	cur, err := e.store.GetByID(ctx, k.Name, id)
	if err != nil {
		return nil, model.Unavailable("get "+k.Name, err)
	}

	merged := model.CloneFields(cur.Fields)
	for name, v := range patch {
		if v == nil {
			delete(merged, name)
			continue
		}
		merged[name] = v
	}

	res, err := e.validator.Validate(ctx, k.Name, merged, validation.Options{ExistingID: cur.ID, Existing: cur, Strict: strict})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	values, err := e.derived(ctx, k, res, cur.ID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.Update(ctx, &model.Entity{ID: cur.ID, Kind: k.Name, Fields: values, UpdatedAt: e.now().UTC()})
	if err != nil {
		return nil, model.Unavailable("update "+k.Name, err)
	}
	e.log.Debug("entity updated", zap.String("kind", k.Name), zap.String("id", updated.ID))
	e.publish(ctx, k.Name, events.ActionUpdated, events.EntityUpdated{Entity: updated, Changes: model.CloneFields(patch)})
	return updated, nil
}

// derived computes derived fields and checks the unique ones among them.
func (e *Engine) derived(ctx context.Context, k *schema.EntityKind, res *validation.Result, existingID string) (map[string]any, error) {
	values := e.derive.Derive(k.Name, res.Fields, res.Refs)
	names := k.DerivedFields()
	if len(names) == 0 {
		return values, nil
	}
	// a non-finite number cannot be encoded as JSON
	var fes []model.FieldError
	for _, name := range names {
		if n, ok := values[name].(float64); ok && (math.IsNaN(n) || math.IsInf(n, 0)) {
			fes = append(fes, model.NewFieldError(model.CodeOutOfRange, k.Name, name, "derived value is not a finite number"))
		}
	}
	if err := model.NewValidationError(k.Name, fes); err != nil {
		return nil, err
	}
	fes, err := e.validator.CheckUnique(ctx, k.Name, values, names, existingID)
	if err != nil {
		return nil, err
	}
	if err := model.NewValidationError(k.Name, fes); err != nil {
		return nil, err
	}
	return values, nil
}

func (e *Engine) Get(ctx context.Context, kind, id string) (*model.Entity, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	ent, err := e.store.GetByID(ctx, k.Name, id)
	if err != nil {
		return nil, model.Unavailable("get "+k.Name, err)
	}
	return ent, nil
}

// FindByCode looks an entity up by its business key.
func (e *Engine) FindByCode(ctx context.Context, kind, code string) (*model.Entity, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	ent, err := e.store.FindByCode(ctx, k.Name, code)
	if err != nil {
		return nil, model.Unavailable("find "+k.Name, err)
	}
	return ent, nil
}

// List checks f against the kind, clamps the window and queries the store.
// The returned filter carries the effective limit and offset.
func (e *Engine) List(ctx context.Context, kind string, f store.Filter) (store.Page, store.Filter, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return store.Page{}, f, err
	}
	if err := f.Check(k); err != nil {
		return store.Page{}, f, err
	}
	page, err := e.store.List(ctx, k.Name, f)
	if err != nil {
		return store.Page{}, f, model.Unavailable("list "+k.Name, err)
	}
	if page.Items == nil {
		page.Items = []*model.Entity{}
	}
	return page, f, nil
}

// SetBlocked changes the status of one entity and announces real changes.
func (e *Engine) SetBlocked(ctx context.Context, kind, id string, blocked bool) (*blocking.PropagationResult, error) {
	res, err := e.blocks.SetBlocked(ctx, kind, id, blocked)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		e.log.Info("entity status changed",
			zap.String("kind", res.Entity.Kind),
			zap.String("id", res.Entity.ID),
			zap.Bool("blocked", blocked),
		)
		e.publish(ctx, res.Entity.Kind, events.BlockAction(blocked), events.StatusChanged{
			Kind:            res.Entity.Kind,
			ID:              res.Entity.ID,
			Blocked:         blocked,
			RestrictedKinds: res.RestrictedKinds,
			At:              res.Entity.UpdatedAt,
		})
	}
	return res, nil
}

// Dependents lists entities referencing (kind, id).
func (e *Engine) Dependents(ctx context.Context, kind, id string, limit int) ([]blocking.Dependent, error) {
	return e.blocks.Dependents(ctx, kind, id, limit)
}

func (e *Engine) publish(ctx context.Context, kind, action string, event any) {
	subject := events.Subject(e.prefix, kind, action)
	if err := e.pub.Publish(context.WithoutCancel(ctx), subject, event); err != nil {
		e.log.Warn("publish event failed", zap.String("subject", subject), zap.Error(err))
	}
}
