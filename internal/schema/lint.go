package schema

import "fmt"

// Issue is a non-fatal schema smell reported by Lint.
type Issue struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint checks registered kinds for contradictions that Register tolerates.
// Issues come back in registration order.
func (r *Registry) Lint() []Issue {
	var issues []Issue
	add := func(kind, field, code, format string, args ...any) {
		issues = append(issues, Issue{Kind: kind, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for _, name := range r.order {
		k := r.kinds[name]
		for _, f := range k.Fields {
			if f.Derived && f.Required {
				add(name, f.Name, "derived_required", "derived field is computed and cannot be required from callers")
			}
			if f.Derived && f.Default != nil {
				add(name, f.Name, "derived_default", "default on a derived field is never applied")
			}
			if f.Trim && f.Type != TypeString {
				add(name, f.Name, "trim_non_string", "trim has no effect on %s fields", describeType(f))
			}
			if k.IsUnique(f.Name) && !f.Required && !f.Derived {
				add(name, f.Name, "unique_optional", "unique field is optional; absent values are not compared")
			}
			if f.IsReference() && f.Required && f.Many {
				add(name, f.Name, "required_list", "required reference list accepts an empty list as missing")
			}
		}
		if _, ok := k.Field("code"); !ok {
			add(name, "", "no_code", "kind has no code field; lookup by code is unavailable")
		}
	}
	return issues
}
