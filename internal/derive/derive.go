// Package derive computes derived fields. Derivation is pure: it reads the
// normalized fields and the resolved references and returns a new map.
package derive

import (
	"math"
	"strconv"
	"strings"

	"mdcatalog/internal/model"
)

// Func computes the derived fields of one kind into out, which already holds
// a copy of the input fields.
type Func func(out map[string]any, refs map[string]*model.Entity)

type Computer struct {
	rules map[string]Func
}

// New returns a Computer with the built-in master-data rules.
func New() *Computer {
	c := &Computer{rules: make(map[string]Func)}
	c.Register("PackingGroup", PackingGroup)
	c.Register("GLAccount", GLAccount)
	return c
}

// Register installs or replaces the rule of a kind.
func (c *Computer) Register(kind string, fn Func) { c.rules[kind] = fn }

// Derive returns a copy of fields with the kind's derived fields recomputed.
// Kinds without a rule pass through unchanged.
func (c *Computer) Derive(kind string, fields map[string]any, refs map[string]*model.Entity) map[string]any {
	out := model.CloneFields(fields)
	if fn, ok := c.rules[kind]; ok {
		fn(out, refs)
	}
	return out
}

var packingFactors = []string{"x1", "x2", "x3", "x4", "x5"}

// PackingGroup sets totalQuantity to the product of x1..x5. Absent and zero
// factors count as 1.
func PackingGroup(out map[string]any, _ map[string]*model.Entity) {
	total := 1.0
	for _, name := range packingFactors {
		if x, ok := out[name].(float64); ok && x != 0 {
			total *= x
		}
	}
	out["totalQuantity"] = total
}

// MaxCodeLength bounds the zero padding of a GLAccount segment.
const MaxCodeLength = 32

// GLAccount sets code to the non-empty parts of
// nature-category-subCategoryName-segment-glAccountFrom-glAccountTo, where
// segment is distinctNumber left-padded with zeros to codeLength digits.
func GLAccount(out map[string]any, refs map[string]*model.Entity) {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if n := refs["accountNatureId"]; n != nil {
		add(n.Code())
	}
	if c := refs["accountCategoryId"]; c != nil {
		add(c.Code())
	}
	text := func(name string) string {
		s, _ := out[name].(string)
		return s
	}
	add(text("subCategoryName"))
	add(glSegment(out))
	add(text("glAccountFrom"))
	add(text("glAccountTo"))
	if len(parts) == 0 {
		delete(out, "code")
		return
	}
	out["code"] = strings.Join(parts, "-")
}

// glSegment formats distinctNumber. Padding applies only to whole numbers
// with a codeLength between 1 and MaxCodeLength.
func glSegment(fields map[string]any) string {
	n, ok := fields["distinctNumber"].(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}
	digits := strconv.FormatFloat(n, 'f', -1, 64)
	width, ok := fields["codeLength"].(float64)
	if !ok || width != math.Trunc(width) || width < 1 || width > MaxCodeLength || n < 0 {
		return digits
	}
	if w := int(width); w > len(digits) {
		digits = strings.Repeat("0", w-len(digits)) + digits
	}
	return digits
}
