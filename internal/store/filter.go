package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
)

// Filter operators.
const (
	OpEq  = "eq"
	OpIn  = "in"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Cond is one `field__op=value` condition.
type Cond struct {
	Field  string
	Op     string
	Values []string
}

type SortKey struct {
	Field string
	Desc  bool
}

// Filter selects and orders a listing. Conditions are ANDed.
type Filter struct {
	Conds   []Cond
	Q       string
	Blocked *bool
	Sort    []SortKey
	Limit   int
	Offset  int
}

// Sortable system attributes besides the declared fields.
var systemSort = map[string]bool{"id": true, "createdAt": true, "updatedAt": true, "isBlocked": true}

// Check rejects conditions on unknown fields, unknown operators and
// ordering comparisons on non-numeric fields. It also clamps the window.
func (f *Filter) Check(k *schema.EntityKind) error {
	for _, c := range f.Conds {
		fd, ok := k.Field(c.Field)
		if !ok {
			return &model.QueryError{Param: c.Field, Reason: fmt.Sprintf("unknown field of %s", k.Name)}
		}
		switch c.Op {
		case OpEq, OpIn:
			if fd.Type == schema.TypeJSON {
				return &model.QueryError{Param: c.Field, Reason: "json fields cannot be filtered"}
			}
		case OpGt, OpGte, OpLt, OpLte:
			if fd.Type != schema.TypeNumber {
				return &model.QueryError{Param: c.Field + "__" + c.Op, Reason: "range operators need a number field"}
			}
		default:
			return &model.QueryError{Param: c.Field + "__" + c.Op, Reason: "unknown operator"}
		}
		if len(c.Values) == 0 {
			return &model.QueryError{Param: c.Field, Reason: "no value"}
		}
		if fd.Type == schema.TypeNumber {
			for _, v := range c.Values {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					return &model.QueryError{Param: c.Field, Reason: fmt.Sprintf("%q is not a number", v)}
				}
			}
		}
		if fd.Type == schema.TypeBoolean {
			for _, v := range c.Values {
				if _, err := strconv.ParseBool(v); err != nil {
					return &model.QueryError{Param: c.Field, Reason: fmt.Sprintf("%q is not a boolean", v)}
				}
			}
		}
	}
	for _, s := range f.Sort {
		if systemSort[s.Field] {
			continue
		}
		fd, ok := k.Field(s.Field)
		if !ok {
			return &model.QueryError{Param: "sort", Reason: fmt.Sprintf("unknown field %q", s.Field)}
		}
		if fd.Many || fd.Type == schema.TypeJSON {
			return &model.QueryError{Param: "sort", Reason: fmt.Sprintf("field %q is not sortable", s.Field)}
		}
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

// Match reports whether e satisfies every condition of f. Backends that
// cannot push a filter down use it to filter in process.
func (f *Filter) Match(k *schema.EntityKind, e *model.Entity) bool {
	if f.Blocked != nil && e.IsBlocked != *f.Blocked {
		return false
	}
	for _, c := range f.Conds {
		fd, _ := k.Field(c.Field)
		if !matchCond(fd, e.Fields[c.Field], c) {
			return false
		}
	}
	if needle := strings.ToLower(strings.TrimSpace(f.Q)); needle != "" {
		for _, fd := range k.Fields {
			if fd.Type != schema.TypeString {
				continue
			}
			if s, ok := e.Fields[fd.Name].(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	}
	return true
}

func matchCond(fd schema.FieldDescriptor, got any, c Cond) bool {
	if got == nil {
		return false
	}
	switch c.Op {
	case OpEq, OpIn:
		for _, want := range c.Values {
			if equalValue(fd, got, want) {
				return true
			}
		}
		return false
	}
	gv, ok := got.(float64)
	if !ok {
		return false
	}
	wv, err := strconv.ParseFloat(c.Values[0], 64)
	if err != nil {
		return false
	}
	switch c.Op {
	case OpGt:
		return gv > wv
	case OpGte:
		return gv >= wv
	case OpLt:
		return gv < wv
	case OpLte:
		return gv <= wv
	}
	return false
}

func equalValue(fd schema.FieldDescriptor, got any, want string) bool {
	switch fd.Type {
	case schema.TypeNumber:
		gv, ok := got.(float64)
		wv, err := strconv.ParseFloat(want, 64)
		return ok && err == nil && gv == wv
	case schema.TypeBoolean:
		gv, ok := got.(bool)
		wv, err := strconv.ParseBool(want)
		return ok && err == nil && gv == wv
	}
	if fd.Many {
		ids, _ := got.([]string)
		for _, id := range ids {
			if id == want {
				return true
			}
		}
		return false
	}
	s, ok := got.(string)
	return ok && s == want
}

// SortEntities orders items by keys, stable with respect to the input
// order. Absent values sort last.
func SortEntities(items []*model.Entity, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, k := range keys {
			if c := compareKey(items[i], items[j], k); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func compareKey(a, b *model.Entity, k SortKey) int {
	va, vb := sortValue(a, k.Field), sortValue(b, k.Field)
	if va == nil || vb == nil {
		switch {
		case va == nil && vb == nil:
			return 0
		case va == nil:
			return 1
		default:
			return -1
		}
	}
	rel := compareValues(va, vb)
	if k.Desc {
		rel = -rel
	}
	return rel
}

func sortValue(e *model.Entity, field string) any {
	switch field {
	case "id":
		return e.ID
	case "createdAt":
		return e.CreatedAt.UnixNano()
	case "updatedAt":
		return e.UpdatedAt.UnixNano()
	case "isBlocked":
		return e.IsBlocked
	}
	return e.Fields[field]
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Window applies offset and limit to a filtered, sorted slice.
func Window(items []*model.Entity, offset, limit int) []*model.Entity {
	if offset >= len(items) {
		return []*model.Entity{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
