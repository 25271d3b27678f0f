package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcatalog/internal/dsl"
	"mdcatalog/internal/model"
	"mdcatalog/internal/reference"
)

func codeName() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "code", Type: TypeString, Required: true, Trim: true},
		{Name: "name", Type: TypeString, Required: true, Trim: true},
	}
}

func salesRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(EntityKind{Name: "SalesRegion", Module: "sales", Fields: codeName(), UniqueFields: []string{"code"}}))
	require.NoError(t, r.Register(EntityKind{
		Name:         "SalesArea",
		Module:       "sales",
		Fields:       append(codeName(), FieldDescriptor{Name: "salesRegionId", Type: TypeReference, Target: "SalesRegion", Required: true}),
		UniqueFields: []string{"code"},
	}))
	return r
}

func TestRegister_DerivesForeignKeys(t *testing.T) {
	r := salesRegistry(t)
	area, err := r.Describe("SalesArea")
	require.NoError(t, err)
	assert.Equal(t, []ForeignKey{{Field: "salesRegionId", TargetKind: "SalesRegion"}}, area.ForeignKeys)
	assert.Equal(t, []Edge{{Kind: "SalesArea", Field: "salesRegionId"}}, r.Dependents("SalesRegion"))
	assert.Empty(t, r.Dependents("SalesArea"))
	assert.Equal(t, []string{"SalesRegion", "SalesArea"}, r.ListKinds())
}

func TestRegister_Errors(t *testing.T) {
	r := salesRegistry(t)

	err := r.Register(EntityKind{Name: "SalesRegion", Fields: codeName()})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeDuplicateKind, se.Code)

	err = r.Register(EntityKind{Name: "salesregion", Fields: codeName()})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeDuplicateKind, se.Code)

	cases := map[string]EntityKind{
		"unregistered target": {Name: "SalesTerritory", Fields: []FieldDescriptor{{Name: "salesAreaId", Type: TypeReference, Target: "Nope"}}},
		"duplicate field":     {Name: "X1", Fields: []FieldDescriptor{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeNumber}}},
		"unknown unique":      {Name: "X2", Fields: codeName(), UniqueFields: []string{"missing"}},
		"empty enum":          {Name: "X3", Fields: []FieldDescriptor{{Name: "e", Type: TypeEnum}}},
		"bad default":         {Name: "X4", Fields: []FieldDescriptor{{Name: "n", Type: TypeNumber, Default: "two"}}},
		"enum default":        {Name: "X5", Fields: []FieldDescriptor{{Name: "e", Type: TypeEnum, EnumValues: []string{"A"}, Default: "B"}}},
		"reserved name":       {Name: "X6", Fields: []FieldDescriptor{{Name: "isBlocked", Type: TypeBoolean}}},
		"list of strings":     {Name: "X7", Fields: []FieldDescriptor{{Name: "s", Type: TypeString, Many: true}}},
		"unknown type":        {Name: "X8", Fields: []FieldDescriptor{{Name: "s", Type: "date"}}},
		"min above max":       {Name: "X9", Fields: []FieldDescriptor{{Name: "n", Type: TypeNumber, Min: ptr(5.0), Max: ptr(1.0)}}},
		"default above max":   {Name: "X10", Fields: []FieldDescriptor{{Name: "n", Type: TypeNumber, Max: ptr(3.0), Default: 4.0}}},
	}
	for name, kind := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Register(kind)
			require.ErrorAs(t, err, &se)
			assert.Equal(t, CodeInvalidSchema, se.Code)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestRegister_Sealed(t *testing.T) {
	r := salesRegistry(t)
	r.Seal()
	err := r.Register(EntityKind{Name: "Late", Fields: codeName()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}

func TestDescribe(t *testing.T) {
	r := salesRegistry(t)
	k, err := r.Describe("salesarea")
	require.NoError(t, err)
	assert.Equal(t, "SalesArea", k.Name)

	_, err = r.Describe("Unknown")
	assert.ErrorIs(t, err, model.ErrNotFound)

	canon, ok := r.Resolve(" SALESREGION ")
	assert.True(t, ok)
	assert.Equal(t, "SalesRegion", canon)
}

func TestRegister_CopiesInput(t *testing.T) {
	r := NewRegistry()
	fields := codeName()
	require.NoError(t, r.Register(EntityKind{Name: "A", Fields: fields}))
	fields[0].Name = "changed"
	k, _ := r.Describe("A")
	assert.Equal(t, "code", k.Fields[0].Name)
}

const accountingDSL = `
module accounting

entity AccountNature:
  code: string required unique trim
  name: string required trim
  financialStatement: enum required catalog=FinancialStatement

entity AccountCategory:
  code: string required trim
  name: string required trim
  accountNatureId: ref[AccountNature] required
  constraints:
    unique(code)

entity Packing:
  code: string required unique
  x1: number
  total: number derived
  decimalAllowed: bool default=true
  digits: number default=2

module finance

entity TaxCode:
  code: string required unique

entity TaxGroup:
  code: string required unique
  taxCodes: array[ref[TaxCode]]
`

func parseDSL(t *testing.T, src string) []*dsl.Entity {
	t.Helper()
	ents, err := dsl.Parse(strings.NewReader(src), "test.dsl")
	require.NoError(t, err)
	return ents
}

func TestFromDSL(t *testing.T) {
	enums := map[string]reference.EnumDirectory{
		"FinancialStatement": {Name: "FinancialStatement", Items: []reference.EnumItem{
			{Code: "IncomeStatement", Order: 1}, {Code: "BalanceSheet", Order: 2},
		}},
	}
	r, err := FromDSL(parseDSL(t, accountingDSL), enums)
	require.NoError(t, err)
	assert.True(t, r.Sealed())
	assert.Equal(t, 5, r.Len())

	nature, _ := r.Describe("AccountNature")
	fs, ok := nature.Field("financialStatement")
	require.True(t, ok)
	assert.Equal(t, TypeEnum, fs.Type)
	assert.Equal(t, []string{"IncomeStatement", "BalanceSheet"}, fs.EnumValues)
	assert.Equal(t, []string{"code"}, nature.UniqueFields)

	cat, _ := r.Describe("AccountCategory")
	assert.Equal(t, []string{"code"}, cat.UniqueFields)
	assert.Equal(t, []ForeignKey{{Field: "accountNatureId", TargetKind: "AccountNature"}}, cat.ForeignKeys)

	packing, _ := r.Describe("Packing")
	assert.Equal(t, []string{"total"}, packing.DerivedFields())
	da, _ := packing.Field("decimalAllowed")
	assert.Equal(t, TypeBoolean, da.Type)
	assert.Equal(t, true, da.Default)
	digits, _ := packing.Field("digits")
	assert.Equal(t, 2.0, digits.Default)

	group, _ := r.Describe("TaxGroup")
	tc, _ := group.Field("taxCodes")
	assert.True(t, tc.Many)
	assert.Equal(t, "TaxCode", tc.Target)
	assert.Equal(t, []Edge{{Kind: "TaxGroup", Field: "taxCodes", Many: true}}, r.Dependents("TaxCode"))
}

func ptr(f float64) *float64 { return &f }

func TestFromDSL_NumberBounds(t *testing.T) {
	r, err := FromDSL(parseDSL(t, "module m\nentity A:\n  width: number integer min=1 max=32\n  ratio: number min=-0.5\n"), nil)
	require.NoError(t, err)
	a, _ := r.Describe("A")

	width, _ := a.Field("width")
	assert.True(t, width.Integer)
	require.NotNil(t, width.Min)
	require.NotNil(t, width.Max)
	assert.Equal(t, 1.0, *width.Min)
	assert.Equal(t, 32.0, *width.Max)

	ratio, _ := a.Field("ratio")
	assert.False(t, ratio.Integer)
	assert.Equal(t, -0.5, *ratio.Min)
	assert.Nil(t, ratio.Max)

	for _, src := range []string{
		"module m\nentity A:\n  s: string max=3\n",
		"module m\nentity A:\n  n: number min=abc\n",
		"module m\nentity A:\n  n: number min=4 max=2\n",
	} {
		_, err := FromDSL(parseDSL(t, src), nil)
		assert.ErrorIs(t, err, ErrSchema, src)
	}
}

func TestFromDSL_Errors(t *testing.T) {
	_, err := FromDSL(parseDSL(t, "module m\nentity A:\n  s: enum required catalog=Missing\n"), nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = FromDSL(parseDSL(t, "module m\nentity A:\n  a: string\n  b: string\n  constraints:\n    unique(a, b)\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composite")

	_, err = FromDSL(parseDSL(t, "module m\nentity B:\n  aId: ref[A]\nentity A:\n  code: string\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register leaves first")

	_, err = FromDSL(parseDSL(t, "module m\nentity A:\n  n: number default=abc\n"), nil)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestLint(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EntityKind{
		Name: "Odd",
		Fields: []FieldDescriptor{
			{Name: "code", Type: TypeString, Required: true},
			{Name: "total", Type: TypeNumber, Derived: true, Required: true, Trim: true},
			{Name: "alias", Type: TypeString},
		},
		UniqueFields: []string{"code", "alias"},
	}))
	require.NoError(t, r.Register(EntityKind{Name: "NoCode", Fields: []FieldDescriptor{{Name: "name", Type: TypeString}}}))

	codes := map[string]bool{}
	for _, is := range r.Lint() {
		codes[is.Code] = true
	}
	assert.True(t, codes["derived_required"])
	assert.True(t, codes["trim_non_string"])
	assert.True(t, codes["unique_optional"])
	assert.True(t, codes["no_code"])
	assert.False(t, codes["derived_default"])
}
