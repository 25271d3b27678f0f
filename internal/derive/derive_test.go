package derive

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"mdcatalog/internal/model"
)

func TestPackingGroup_AllCombinations(t *testing.T) {
	values := []float64{2, 3, 5, 7, 11}
	// every subset of present factors, plus zero in place of each absent one
	for mask := 0; mask < 1<<len(packingFactors); mask++ {
		for _, absentAsZero := range []bool{false, true} {
			fields := map[string]any{"code": "PG"}
			want := 1.0
			for i, name := range packingFactors {
				switch {
				case mask&(1<<i) != 0:
					fields[name] = values[i]
					want *= values[i]
				case absentAsZero:
					fields[name] = 0.0
				}
			}
			got := New().Derive("PackingGroup", fields, nil)
			assert.Equal(t, want, got["totalQuantity"], "mask=%05b zero=%v", mask, absentAsZero)
		}
	}
}

func TestPackingGroup_Example(t *testing.T) {
	got := New().Derive("PackingGroup", map[string]any{"x1": 2.0, "x2": 3.0}, nil)
	assert.Equal(t, 6.0, got["totalQuantity"])

	got = New().Derive("PackingGroup", map[string]any{}, nil)
	assert.Equal(t, 1.0, got["totalQuantity"])
}

func TestPackingGroup_OverwritesClientValue(t *testing.T) {
	got := New().Derive("PackingGroup", map[string]any{"x1": 4.0, "totalQuantity": 999.0}, nil)
	assert.Equal(t, 4.0, got["totalQuantity"])
}

func refs(nature, category string) map[string]*model.Entity {
	return map[string]*model.Entity{
		"accountNatureId":   {Kind: "AccountNature", Fields: map[string]any{"code": nature}},
		"accountCategoryId": {Kind: "AccountCategory", Fields: map[string]any{"code": category}},
	}
}

func TestGLAccount(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		refs   map[string]*model.Entity
		want   any
	}{
		{"padded", map[string]any{"distinctNumber": 7.0, "codeLength": 4.0}, refs("1", "10"), "1-10-0007"},
		{"no padding needed", map[string]any{"distinctNumber": 12345.0, "codeLength": 3.0}, refs("1", "10"), "1-10-12345"},
		{"no length", map[string]any{"distinctNumber": 42.0}, refs("2", "20"), "2-20-42"},
		{"range only", map[string]any{"glAccountFrom": " 5000 ", "glAccountTo": "5999"}, refs("3", "30"), "3-30-5000-5999"},
		{"all components", map[string]any{
			"subCategoryName": "Cash", "distinctNumber": 1.0, "codeLength": 2.0, "glAccountFrom": "1000", "glAccountTo": "1999",
		}, refs("AS", "CA"), "AS-CA-Cash-01-1000-1999"},
		{"no segment", map[string]any{}, refs("4", "40"), "4-40"},
		{"client code ignored", map[string]any{"code": "X", "distinctNumber": 1.0}, refs("5", "50"), "5-50-1"},
		{"empty category code", map[string]any{"distinctNumber": 1.0}, refs("6", ""), "6-1"},
		{"huge length not padded", map[string]any{"distinctNumber": 7.0, "codeLength": 9e18}, refs("1", "10"), "1-10-7"},
		{"length above max not padded", map[string]any{"distinctNumber": 7.0, "codeLength": MaxCodeLength + 1.0}, refs("1", "10"), "1-10-7"},
		{"negative length", map[string]any{"distinctNumber": 7.0, "codeLength": -4.0}, refs("1", "10"), "1-10-7"},
		{"fractional length", map[string]any{"distinctNumber": 7.0, "codeLength": 3.5}, refs("1", "10"), "1-10-7"},
		{"max length", map[string]any{"distinctNumber": 7.0, "codeLength": float64(MaxCodeLength)}, refs("1", "10"), "1-10-" + strings.Repeat("0", MaxCodeLength-1) + "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().Derive("GLAccount", tt.fields, tt.refs)
			assert.Equal(t, tt.want, got["code"])
		})
	}

	got := New().Derive("GLAccount", map[string]any{"code": "stale"}, nil)
	_, has := got["code"]
	assert.False(t, has)
}

func TestPackingGroup_Overflow(t *testing.T) {
	got := New().Derive("PackingGroup", map[string]any{"x1": 1e200, "x2": 1e200}, nil)
	assert.True(t, math.IsInf(got["totalQuantity"].(float64), 1))
}

func TestDerive_Idempotent(t *testing.T) {
	c := New()
	r := refs("1", "10")
	for kind, fields := range map[string]map[string]any{
		"PackingGroup": {"x1": 2.0, "x3": 0.0, "x5": 4.0},
		"GLAccount":    {"distinctNumber": 9.0, "codeLength": 3.0, "glAccountTo": "9999"},
		"ProductType":  {"code": "FG", "name": "Finished goods"},
	} {
		once := c.Derive(kind, fields, r)
		twice := c.Derive(kind, once, r)
		assert.Equal(t, once, twice, kind)
	}
}

func TestDerive_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"x1": 2.0}
	_ = New().Derive("PackingGroup", in, nil)
	_, has := in["totalQuantity"]
	assert.False(t, has)
}
