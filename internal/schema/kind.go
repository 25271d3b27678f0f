// Package schema is the entity schema registry: one declarative table of
// entity kinds, their fields and the foreign-key edges between them.
package schema

// FieldType is the value type of a field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeEnum      FieldType = "enum"
	TypeJSON      FieldType = "json"
	TypeReference FieldType = "reference"
)

// FieldDescriptor declares one field of a kind.
type FieldDescriptor struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required,omitempty"`
	Default    any       `json:"default,omitempty"`
	EnumValues []string  `json:"enumValues,omitempty"`
	// Trim strips surrounding whitespace before comparison and storage.
	Trim bool `json:"trim,omitempty"`
	// Derived fields are computed, never accepted from callers.
	Derived bool `json:"derived,omitempty"`
	// Target is the referenced kind for reference fields.
	Target string `json:"target,omitempty"`
	// Many marks a list of references.
	Many bool `json:"many,omitempty"`
	// Number bounds. Min and Max are inclusive; Integer rejects fractions.
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Integer bool     `json:"integer,omitempty"`
}

// IsReference reports whether the field points at other entities.
func (f FieldDescriptor) IsReference() bool { return f.Type == TypeReference }

// ForeignKey is an edge from Field to TargetKind.
type ForeignKey struct {
	Field      string `json:"field"`
	TargetKind string `json:"targetKind"`
	Many       bool   `json:"many,omitempty"`
}

// Edge is a reverse foreign key: Kind.Field references the kind it was asked for.
type Edge struct {
	Kind  string `json:"kind"`
	Field string `json:"field"`
	Many  bool   `json:"many,omitempty"`
}

// EntityKind describes one master-data category.
type EntityKind struct {
	Name         string            `json:"name"`
	Module       string            `json:"module"`
	Fields       []FieldDescriptor `json:"fields"`
	UniqueFields []string          `json:"uniqueFields"`
	ForeignKeys  []ForeignKey      `json:"foreignKeys"`
}

// Field looks a field up by name.
func (k *EntityKind) Field(name string) (FieldDescriptor, bool) {
	for _, f := range k.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// IsUnique reports whether name is declared unique.
func (k *EntityKind) IsUnique(name string) bool {
	for _, u := range k.UniqueFields {
		if u == name {
			return true
		}
	}
	return false
}

// DerivedFields lists the names of derived fields in declaration order.
func (k *EntityKind) DerivedFields() []string {
	var out []string
	for _, f := range k.Fields {
		if f.Derived {
			out = append(out, f.Name)
		}
	}
	return out
}

// References lists the reference fields in declaration order.
func (k *EntityKind) References() []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range k.Fields {
		if f.IsReference() {
			out = append(out, f)
		}
	}
	return out
}

func (k *EntityKind) clone() *EntityKind {
	out := *k
	out.Fields = make([]FieldDescriptor, len(k.Fields))
	for i, f := range k.Fields {
		f.EnumValues = append([]string(nil), f.EnumValues...)
		if f.Min != nil {
			lo := *f.Min
			f.Min = &lo
		}
		if f.Max != nil {
			hi := *f.Max
			f.Max = &hi
		}
		out.Fields[i] = f
	}
	out.UniqueFields = append([]string(nil), k.UniqueFields...)
	out.ForeignKeys = append([]ForeignKey(nil), k.ForeignKeys...)
	return &out
}
