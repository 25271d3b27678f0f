package schema

import (
	"errors"
	"fmt"
	"strings"

	"mdcatalog/internal/model"
)

// Schema error codes.
const (
	CodeDuplicateKind = "DuplicateKind"
	CodeInvalidSchema = "InvalidSchema"
)

// ErrSchema matches every *SchemaError.
var ErrSchema = errors.New("schema error")

// SchemaError is a registry misconfiguration. It is fatal at startup and
// never reaches API callers.
type SchemaError struct {
	Code   string
	Kind   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Kind, e.Reason)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func invalid(kind, field, format string, args ...any) error {
	return &SchemaError{Code: CodeInvalidSchema, Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Registry holds the registered kinds. Kinds must be registered in dependency
// order (leaves first). After Seal the registry is read-only and safe for
// concurrent use without locking.
type Registry struct {
	kinds      map[string]*EntityKind
	order      []string
	lower      map[string]string
	dependents map[string][]Edge
	sealed     bool
}

func NewRegistry() *Registry {
	return &Registry{
		kinds:      make(map[string]*EntityKind),
		lower:      make(map[string]string),
		dependents: make(map[string][]Edge),
	}
}

// Register adds a kind. ForeignKeys are derived from reference fields when
// the caller leaves them empty.
func (r *Registry) Register(kind EntityKind) error {
	if r.sealed {
		return invalid(kind.Name, "", "registry is sealed")
	}
	name := strings.TrimSpace(kind.Name)
	if name == "" {
		return invalid("", "", "kind name is empty")
	}
	if _, exists := r.kinds[name]; exists {
		return &SchemaError{Code: CodeDuplicateKind, Kind: name, Reason: "kind already registered"}
	}
	if prev, exists := r.lower[strings.ToLower(name)]; exists {
		return &SchemaError{Code: CodeDuplicateKind, Kind: name, Reason: fmt.Sprintf("collides with %q", prev)}
	}

	k := kind.clone()
	k.Name = name
	if err := r.check(k); err != nil {
		return err
	}

	r.kinds[name] = k
	r.order = append(r.order, name)
	r.lower[strings.ToLower(name)] = name
	for _, fk := range k.ForeignKeys {
		r.dependents[fk.TargetKind] = append(r.dependents[fk.TargetKind], Edge{Kind: name, Field: fk.Field, Many: fk.Many})
	}
	return nil
}

func (r *Registry) check(k *EntityKind) error {
	seen := make(map[string]struct{}, len(k.Fields))
	for _, f := range k.Fields {
		if f.Name == "" {
			return invalid(k.Name, "", "field with empty name")
		}
		if reservedField(f.Name) {
			return invalid(k.Name, f.Name, "field name is reserved for system attributes")
		}
		if _, dup := seen[f.Name]; dup {
			return invalid(k.Name, f.Name, "field declared twice")
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeJSON:
		case TypeEnum:
			if len(f.EnumValues) == 0 {
				return invalid(k.Name, f.Name, "enum field has no values")
			}
		case TypeReference:
			if f.Target == "" {
				return invalid(k.Name, f.Name, "reference field has no target kind")
			}
			if _, ok := r.kinds[f.Target]; !ok && f.Target != k.Name {
				return invalid(k.Name, f.Name, "references unregistered kind %q (register leaves first)", f.Target)
			}
			if f.Target == k.Name {
				return invalid(k.Name, f.Name, "self references are not supported")
			}
		default:
			return invalid(k.Name, f.Name, "unknown field type %q", f.Type)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return invalid(k.Name, f.Name, "min %v is greater than max %v", *f.Min, *f.Max)
		}
		if f.Many && f.Type != TypeReference {
			return invalid(k.Name, f.Name, "only reference fields can hold lists")
		}
		if f.Default != nil {
			if err := checkDefault(k.Name, f); err != nil {
				return err
			}
		}
	}

	for _, u := range k.UniqueFields {
		f, ok := k.Field(u)
		if !ok {
			return invalid(k.Name, u, "unique constraint on unknown field")
		}
		if f.Many || f.Type == TypeJSON {
			return invalid(k.Name, u, "unique constraint on a %s field", describeType(f))
		}
	}

	if len(k.ForeignKeys) == 0 {
		for _, f := range k.Fields {
			if f.IsReference() {
				k.ForeignKeys = append(k.ForeignKeys, ForeignKey{Field: f.Name, TargetKind: f.Target, Many: f.Many})
			}
		}
		return nil
	}
	for _, fk := range k.ForeignKeys {
		f, ok := k.Field(fk.Field)
		if !ok || !f.IsReference() {
			return invalid(k.Name, fk.Field, "foreign key on a non-reference field")
		}
		if f.Target != fk.TargetKind {
			return invalid(k.Name, fk.Field, "foreign key target %q differs from field target %q", fk.TargetKind, f.Target)
		}
		if _, ok := r.kinds[fk.TargetKind]; !ok {
			return invalid(k.Name, fk.Field, "references unregistered kind %q (register leaves first)", fk.TargetKind)
		}
	}
	return nil
}

func checkDefault(kind string, f FieldDescriptor) error {
	ok := false
	switch f.Type {
	case TypeString:
		_, ok = f.Default.(string)
	case TypeNumber:
		var n float64
		n, ok = f.Default.(float64)
		if ok && ((f.Min != nil && n < *f.Min) || (f.Max != nil && n > *f.Max)) {
			return invalid(kind, f.Name, "default %v is outside [min, max]", n)
		}
	case TypeBoolean:
		_, ok = f.Default.(bool)
	case TypeEnum:
		s, isStr := f.Default.(string)
		for _, v := range f.EnumValues {
			if isStr && s == v {
				ok = true
			}
		}
	case TypeJSON:
		ok = true
	}
	if !ok {
		return invalid(kind, f.Name, "default %v does not match type %s", f.Default, describeType(f))
	}
	return nil
}

func describeType(f FieldDescriptor) string {
	if f.Many {
		return "reference list"
	}
	return string(f.Type)
}

// System attributes live outside Fields.
func reservedField(name string) bool {
	switch name {
	case "id", "kind", "isBlocked", "createdAt", "updatedAt":
		return true
	}
	return false
}

// Seal ends the registration phase.
func (r *Registry) Seal() { r.sealed = true }

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool { return r.sealed }

// Describe returns the kind named name. Unknown kinds yield a NotFound error.
func (r *Registry) Describe(name string) (*EntityKind, error) {
	k, ok := r.kinds[name]
	if !ok {
		if canon, found := r.Resolve(name); found {
			return r.kinds[canon], nil
		}
		return nil, model.NotFound(name, "")
	}
	return k, nil
}

// Resolve maps a case-insensitive kind name to its registered spelling.
func (r *Registry) Resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if _, ok := r.kinds[name]; ok {
		return name, true
	}
	canon, ok := r.lower[strings.ToLower(name)]
	return canon, ok
}

// ListKinds returns kind names in registration (dependency) order.
func (r *Registry) ListKinds() []string {
	return append([]string(nil), r.order...)
}

// Dependents returns the edges of kinds that reference kind.
func (r *Registry) Dependents(kind string) []Edge {
	return append([]Edge(nil), r.dependents[kind]...)
}

// Len is the number of registered kinds.
func (r *Registry) Len() int { return len(r.order) }
