package dsl

// Entity is one `entity Name:` block of the catalog DSL.
type Entity struct {
	Name        string
	Module      string
	Fields      []Field
	Constraints Constraints
	// Source is the file the block was read from, for error messages.
	Source string
}

// Constraints holds the optional `constraints:` section.
type Constraints struct {
	Unique [][]string
}

// Field is one `name: type options...` line.
type Field struct {
	Name      string
	Type      string            // string, number, bool, json, enum, ref, array
	Enum      []string          // inline enum values
	RefTarget string            // target entity for ref / array[ref[...]]
	ElemType  string            // element type for array[...]
	Options   map[string]string // required, unique, trim, derived, default=..., catalog=...
}

// Flag reports whether a boolean option such as `required` is set.
func (f Field) Flag(name string) bool {
	v, ok := f.Options[name]
	return ok && v != "false"
}

// Option returns a key=value option.
func (f Field) Option(name string) (string, bool) {
	v, ok := f.Options[name]
	return v, ok
}
