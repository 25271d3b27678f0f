// Package validation checks candidate field maps against the schema registry
// and the current store contents. It never writes.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
)

// Reader is the read side of the catalog store.
type Reader interface {
	GetByID(ctx context.Context, kind, id string) (*model.Entity, error)
	FindByField(ctx context.Context, kind, field string, value any) (*model.Entity, error)
}

// BlockChecker finds a blocked entity on the upward reference chain of
// (kind, id). An empty path means the chain is active.
type BlockChecker interface {
	BlockedPath(ctx context.Context, kind, id string) ([]model.Ref, error)
}

// Options control one validation run.
type Options struct {
	// ExistingID is set on update and excluded from uniqueness checks.
	ExistingID string
	// Existing is the stored state before the update.
	Existing *model.Entity
	// Strict rejects references whose target chain contains a blocked entity.
	Strict bool
}

// Result is the normalized candidate plus every violation found.
type Result struct {
	Kind   string
	Fields map[string]any
	// Refs holds the resolved targets of single reference fields.
	Refs   map[string]*model.Entity
	Errors []model.FieldError
}

// Err returns the violations as a *model.ValidationError, or nil.
func (r *Result) Err() error { return model.NewValidationError(r.Kind, r.Errors) }

type Engine struct {
	reg    *schema.Registry
	store  Reader
	blocks BlockChecker
}

func New(reg *schema.Registry, store Reader, blocks BlockChecker) *Engine {
	return &Engine{reg: reg, store: store, blocks: blocks}
}

// Validate checks shape, references and uniqueness, in field declaration
// order. Defaults are applied when opts.ExistingID is empty. Unknown, system
// and derived keys are dropped from the result. The returned error is
// reserved for unknown kinds and store failures.
func (e *Engine) Validate(ctx context.Context, kindName string, candidate map[string]any, opts Options) (*Result, error) {
	k, err := e.reg.Describe(kindName)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: k.Name, Fields: make(map[string]any), Refs: make(map[string]*model.Entity)}
	creating := opts.ExistingID == ""

	for _, f := range k.Fields {
		if f.Derived {
			continue
		}
		v, present := candidate[f.Name]
		if (!present || v == nil) && creating && f.Default != nil {
			v = model.CloneFields(map[string]any{"v": f.Default})["v"]
		}

		val, fe := normalize(k.Name, f, v)
		if fe != nil {
			res.Errors = append(res.Errors, *fe)
			continue
		}
		if val == nil {
			if f.Required {
				res.Errors = append(res.Errors, model.NewFieldError(model.CodeMissingField, k.Name, f.Name, "field is required"))
			}
			continue
		}
		res.Fields[f.Name] = val

		if f.IsReference() {
			fe, err := e.checkReference(ctx, k, f, val, opts, res)
			if err != nil {
				return nil, err
			}
			if fe != nil {
				res.Errors = append(res.Errors, *fe)
				continue
			}
		}

		if k.IsUnique(f.Name) {
			fe, err := e.uniqueViolation(ctx, k, f.Name, val, opts.ExistingID)
			if err != nil {
				return nil, err
			}
			if fe != nil {
				res.Errors = append(res.Errors, *fe)
			}
		}
	}
	return res, nil
}

// CheckUnique verifies the named fields of an already normalized map, e.g.
// derived fields after computation.
func (e *Engine) CheckUnique(ctx context.Context, kindName string, fields map[string]any, names []string, existingID string) ([]model.FieldError, error) {
	k, err := e.reg.Describe(kindName)
	if err != nil {
		return nil, err
	}
	var out []model.FieldError
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil || !k.IsUnique(name) {
			continue
		}
		fe, err := e.uniqueViolation(ctx, k, name, v, existingID)
		if err != nil {
			return nil, err
		}
		if fe != nil {
			out = append(out, *fe)
		}
	}
	return out, nil
}

func (e *Engine) uniqueViolation(ctx context.Context, k *schema.EntityKind, field string, v any, existingID string) (*model.FieldError, error) {
	found, err := e.store.FindByField(ctx, k.Name, field, v)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, model.Unavailable("check unique "+k.Name+"."+field, err)
	case found.ID == existingID:
		return nil, nil
	}
	fe := model.NewFieldError(model.CodeDuplicateValue, k.Name, field, fmt.Sprintf("value %v is already used", v))
	return &fe, nil
}

func (e *Engine) checkReference(ctx context.Context, k *schema.EntityKind, f schema.FieldDescriptor, v any, opts Options, res *Result) (*model.FieldError, error) {
	ids := model.RefIDs(v)
	var previous map[string]bool
	if opts.Existing != nil {
		previous = make(map[string]bool)
		for _, id := range model.RefIDs(opts.Existing.Fields[f.Name]) {
			previous[id] = true
		}
	}

	for _, id := range ids {
		target, err := e.store.GetByID(ctx, f.Target, id)
		if errors.Is(err, model.ErrNotFound) {
			fe := model.NewFieldError(model.CodeDanglingReference, k.Name, f.Name, fmt.Sprintf("%s %q does not exist", f.Target, id))
			return &fe, nil
		}
		if err != nil {
			return nil, model.Unavailable("resolve "+k.Name+"."+f.Name, err)
		}
		if !f.Many {
			res.Refs[f.Name] = target
		}

		// links that already existed are never invalidated by blocking
		if !opts.Strict || previous[id] || e.blocks == nil {
			continue
		}
		path, err := e.blocks.BlockedPath(ctx, f.Target, id)
		if err != nil {
			return nil, model.Unavailable("check blocked "+k.Name+"."+f.Name, err)
		}
		if len(path) > 0 {
			fe := model.NewFieldError(model.CodeBlockedReference, k.Name, f.Name, blockedMessage(path))
			return &fe, nil
		}
	}
	return nil, nil
}

func blockedMessage(path []model.Ref) string {
	last := path[len(path)-1]
	if len(path) == 1 {
		return fmt.Sprintf("%s %q is blocked", last.Kind, last.ID)
	}
	hops := make([]string, len(path))
	for i, r := range path {
		hops[i] = r.Kind
	}
	return fmt.Sprintf("%s %q is blocked (via %s)", last.Kind, last.ID, strings.Join(hops, " -> "))
}

// normalize converts v to the stored representation of f. A nil result
// without error means the value is empty.
func normalize(kind string, f schema.FieldDescriptor, v any) (any, *model.FieldError) {
	if v == nil {
		return nil, nil
	}
	mismatch := func(want string) (any, *model.FieldError) {
		fe := model.NewFieldError(model.CodeTypeMismatch, kind, f.Name, fmt.Sprintf("expected %s, got %s", want, jsonType(v)))
		return nil, &fe
	}

	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return mismatch("string")
		}
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if s == "" {
			return nil, nil
		}
		return s, nil

	case schema.TypeNumber:
		n, ok := toFloat(v)
		if !ok {
			return mismatch("number")
		}
		if fe := checkBounds(kind, f, n); fe != nil {
			return nil, fe
		}
		return n, nil

	case schema.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return mismatch("boolean")
		}
		return b, nil

	case schema.TypeEnum:
		s, ok := v.(string)
		if !ok {
			return mismatch("string")
		}
		if s == "" {
			return nil, nil
		}
		for _, allowed := range f.EnumValues {
			if s == allowed {
				return s, nil
			}
		}
		fe := model.NewFieldError(model.CodeInvalidEnumValue, kind, f.Name,
			fmt.Sprintf("%q is not one of %s", s, strings.Join(f.EnumValues, ", ")))
		return nil, &fe

	case schema.TypeJSON:
		if raw, ok := v.(json.RawMessage); ok {
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return mismatch("json")
			}
			return out, nil
		}
		return v, nil

	case schema.TypeReference:
		if !f.Many {
			s, ok := v.(string)
			if !ok {
				return mismatch("reference id")
			}
			if s = strings.TrimSpace(s); s == "" {
				return nil, nil
			}
			return s, nil
		}
		var ids []string
		switch t := v.(type) {
		case []string:
			ids = t
		case []any:
			for _, x := range t {
				s, ok := x.(string)
				if !ok {
					return mismatch("list of reference ids")
				}
				ids = append(ids, s)
			}
		default:
			return mismatch("list of reference ids")
		}
		out := make([]string, 0, len(ids))
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}
	return mismatch(string(f.Type))
}

func checkBounds(kind string, f schema.FieldDescriptor, n float64) *model.FieldError {
	var msg string
	switch {
	case f.Integer && n != math.Trunc(n):
		msg = fmt.Sprintf("expected an integer, got %v", n)
	case f.Min != nil && n < *f.Min:
		msg = fmt.Sprintf("%v is below the minimum %v", n, *f.Min)
	case f.Max != nil && n > *f.Max:
		msg = fmt.Sprintf("%v is above the maximum %v", n, *f.Max)
	default:
		return nil
	}
	fe := model.NewFieldError(model.CodeOutOfRange, kind, f.Name, msg)
	return &fe
}

func toFloat(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
