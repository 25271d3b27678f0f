// Package model holds the catalog's stored record type and the error taxonomy
// shared by the registry, the validation engine, the stores and the HTTP layer.
package model

import (
	"encoding/json"
	"time"
)

// Entity is one stored master-data record.
type Entity struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields"`
	IsBlocked bool           `json:"isBlocked"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Ref points at an entity of a given kind.
type Ref struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Clone returns a deep copy so callers can't mutate store state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Fields = CloneFields(e.Fields)
	return &out
}

// Code returns the entity's code field, "" when absent.
func (e *Entity) Code() string {
	s, _ := e.Fields["code"].(string)
	return s
}

// CloneFields copies a field map. Slices and nested JSON values are copied too.
func CloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	case map[string]any:
		return CloneFields(t)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

// RefIDs lists the ids held by a reference field value: a single id or a
// list of ids.
func RefIDs(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
