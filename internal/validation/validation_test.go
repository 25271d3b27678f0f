package validation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcatalog/internal/blocking"
	"mdcatalog/internal/masterdata"
	"mdcatalog/internal/model"
	"mdcatalog/internal/store/memory"
	"mdcatalog/internal/validation"
)

type env struct {
	store    *memory.Store
	blocks   *blocking.Engine
	validate *validation.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cat, err := masterdata.Load()
	require.NoError(t, err)
	st := memory.New(cat.Registry)
	blocks := blocking.New(cat.Registry, st)
	return &env{store: st, blocks: blocks, validate: validation.New(cat.Registry, st, blocks)}
}

func (e *env) put(t *testing.T, kind string, fields map[string]any) *model.Entity {
	t.Helper()
	ent, err := e.store.Create(context.Background(), &model.Entity{Kind: kind, Fields: fields})
	require.NoError(t, err)
	return ent
}

func codes(res *validation.Result) []string {
	out := make([]string, 0, len(res.Errors))
	for _, fe := range res.Errors {
		out = append(out, fe.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	e := newEnv(t)
	res, err := e.validate.Validate(context.Background(), "AccountNature", map[string]any{
		"code":               "  AS ",
		"name":               "Assets",
		"financialStatement": "BalanceSheet",
		"bogus":              "dropped",
		"id":                 "client-id",
	}, validation.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())
	assert.Equal(t, "AccountNature", res.Kind)
	assert.Equal(t, map[string]any{"code": "AS", "name": "Assets", "financialStatement": "BalanceSheet"}, res.Fields)
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	e := newEnv(t)
	res, err := e.validate.Validate(context.Background(), "AccountNature", map[string]any{
		"code":               42,
		"financialStatement": "balancesheet",
	}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeTypeMismatch, model.CodeMissingField, model.CodeInvalidEnumValue}, codes(res))
	assert.Equal(t, "code", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "got number")
	assert.Equal(t, "name", res.Errors[1].Field)

	verr, ok := model.AsValidation(res.Err())
	require.True(t, ok)
	assert.Len(t, verr.Errors, 3)
}

func TestValidate_EmptyValuesAreAbsent(t *testing.T) {
	e := newEnv(t)
	res, err := e.validate.Validate(context.Background(), "SalesRegion", map[string]any{
		"code": "   ",
		"name": nil,
	}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeMissingField, model.CodeMissingField}, codes(res))
}

func TestValidate_Numbers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.validate.Validate(ctx, "PackingGroup", map[string]any{
		"code": "PG", "name": "Pallet", "x1": json.Number("2"), "x2": 3, "totalQuantity": 99.0,
	}, validation.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2.0, res.Fields["x1"])
	assert.Equal(t, 3.0, res.Fields["x2"])
	assert.NotContains(t, res.Fields, "totalQuantity")

	res, err = e.validate.Validate(ctx, "PackingGroup", map[string]any{
		"code": "PG", "name": "Pallet", "x1": "2",
	}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeTypeMismatch}, codes(res))
}

func TestValidate_NumberBounds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields map[string]any
		bad    []string
	}{
		{"in range", map[string]any{"distinctNumber": 7, "codeLength": 32}, nil},
		{"huge length", map[string]any{"codeLength": 9e18}, []string{"codeLength"}},
		{"zero length", map[string]any{"codeLength": 0}, []string{"codeLength"}},
		{"fractional length", map[string]any{"codeLength": json.Number("2.5")}, []string{"codeLength"}},
		{"negative number", map[string]any{"distinctNumber": -1, "codeLength": -3}, []string{"distinctNumber", "codeLength"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.validate.Validate(ctx, "GLAccount", tt.fields, validation.Options{})
			require.NoError(t, err)
			var bad []string
			for _, fe := range res.Errors {
				if fe.Code == model.CodeOutOfRange {
					bad = append(bad, fe.Field)
				}
			}
			assert.Equal(t, tt.bad, bad)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.validate.Validate(ctx, "InventoryUnit", map[string]any{"code": "KG", "name": "Kilogram"}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, true, res.Fields["decimalAllowed"])
	assert.Equal(t, 2.0, res.Fields["decimalDigits"])

	res, err = e.validate.Validate(ctx, "InventoryUnit", map[string]any{"code": "PC", "name": "Piece", "decimalAllowed": false}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, false, res.Fields["decimalAllowed"])

	// no defaults on update
	res, err = e.validate.Validate(ctx, "InventoryUnit", map[string]any{"code": "KG", "name": "Kilogram"}, validation.Options{ExistingID: "x"})
	require.NoError(t, err)
	assert.NotContains(t, res.Fields, "decimalDigits")
}

func TestValidate_DuplicateValue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	existing := e.put(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})

	res, err := e.validate.Validate(ctx, "SalesRegion", map[string]any{"code": " N ", "name": "Other"}, validation.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{model.CodeDuplicateValue}, codes(res))
	assert.Equal(t, "code", res.Errors[0].Field)

	// an entity does not collide with itself
	res, err = e.validate.Validate(ctx, "SalesRegion", map[string]any{"code": "N", "name": "Renamed"},
		validation.Options{ExistingID: existing.ID, Existing: existing})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}

func TestValidate_References(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	region := e.put(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})

	res, err := e.validate.Validate(ctx, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": "missing"}, validation.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{model.CodeDanglingReference}, codes(res))
	assert.Equal(t, "salesRegionId", res.Errors[0].Field)

	res, err = e.validate.Validate(ctx, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": region.ID}, validation.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Contains(t, res.Refs, "salesRegionId")
	assert.Equal(t, "N", res.Refs["salesRegionId"].Code())

	res, err = e.validate.Validate(ctx, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": 7}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeTypeMismatch}, codes(res))
}

func TestValidate_ReferenceList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gst := e.put(t, "TaxCode", map[string]any{"code": "GST", "name": "GST"})

	res, err := e.validate.Validate(ctx, "TaxGroup", map[string]any{
		"code": "G", "name": "G", "taxCodes": []any{gst.ID, " " + gst.ID + " ", ""},
	}, validation.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{gst.ID}, res.Fields["taxCodes"])

	res, err = e.validate.Validate(ctx, "TaxGroup", map[string]any{
		"code": "G", "name": "G", "taxCodes": []any{gst.ID, "missing"},
	}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeDanglingReference}, codes(res))

	res, err = e.validate.Validate(ctx, "TaxGroup", map[string]any{
		"code": "G", "name": "G", "taxCodes": gst.ID,
	}, validation.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{model.CodeTypeMismatch}, codes(res))
}

func TestValidate_BlockedReference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	nature := e.put(t, "AccountNature", map[string]any{"code": "AS", "name": "Assets", "financialStatement": "BalanceSheet"})
	_, err := e.blocks.SetBlocked(ctx, "AccountNature", nature.ID, true)
	require.NoError(t, err)

	candidate := map[string]any{"code": "CA", "name": "Current assets", "accountNatureId": nature.ID}

	res, err := e.validate.Validate(ctx, "AccountCategory", candidate, validation.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors, "blocked targets stay referenceable outside strict mode")

	res, err = e.validate.Validate(ctx, "AccountCategory", candidate, validation.Options{Strict: true})
	require.NoError(t, err)
	require.Equal(t, []string{model.CodeBlockedReference}, codes(res))
	assert.Equal(t, "accountNatureId", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "is blocked")
}

func TestValidate_BlockedAncestor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	region := e.put(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})
	area := e.put(t, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": region.ID})
	_, err := e.blocks.SetBlocked(ctx, "SalesRegion", region.ID, true)
	require.NoError(t, err)

	res, err := e.validate.Validate(ctx, "SalesTerritory", map[string]any{"code": "T", "name": "T", "salesAreaId": area.ID},
		validation.Options{Strict: true})
	require.NoError(t, err)
	require.Equal(t, []string{model.CodeBlockedReference}, codes(res))
	assert.Contains(t, res.Errors[0].Message, "SalesArea -> SalesRegion")
}

func TestValidate_StrictUpdateKeepsExistingLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	nature := e.put(t, "AccountNature", map[string]any{"code": "AS", "name": "Assets", "financialStatement": "BalanceSheet"})
	category := e.put(t, "AccountCategory", map[string]any{"code": "CA", "name": "Current", "accountNatureId": nature.ID})
	_, err := e.blocks.SetBlocked(ctx, "AccountNature", nature.ID, true)
	require.NoError(t, err)

	res, err := e.validate.Validate(ctx, "AccountCategory", map[string]any{
		"code": "CA", "name": "Current assets", "accountNatureId": nature.ID,
	}, validation.Options{ExistingID: category.ID, Existing: category, Strict: true})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}

func TestValidate_UnknownKind(t *testing.T) {
	e := newEnv(t)
	_, err := e.validate.Validate(context.Background(), "Nope", map[string]any{}, validation.Options{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

type failingReader struct{}

func (failingReader) GetByID(context.Context, string, string) (*model.Entity, error) {
	return nil, errors.New("connection reset")
}

func (failingReader) FindByField(context.Context, string, string, any) (*model.Entity, error) {
	return nil, errors.New("connection reset")
}

func TestValidate_StoreFailure(t *testing.T) {
	cat, err := masterdata.Load()
	require.NoError(t, err)
	v := validation.New(cat.Registry, failingReader{}, nil)

	_, err = v.Validate(context.Background(), "SalesRegion", map[string]any{"code": "N", "name": "North"}, validation.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestCheckUnique(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	nature := e.put(t, "AccountNature", map[string]any{"code": "AS", "name": "Assets", "financialStatement": "BalanceSheet"})
	category := e.put(t, "AccountCategory", map[string]any{"code": "CA", "name": "Current", "accountNatureId": nature.ID})
	gl := e.put(t, "GLAccount", map[string]any{"code": "AS-CA-01", "accountNatureId": nature.ID, "accountCategoryId": category.ID})

	fes, err := e.validate.CheckUnique(ctx, "GLAccount", map[string]any{"code": "AS-CA-01"}, []string{"code"}, "")
	require.NoError(t, err)
	require.Len(t, fes, 1)
	assert.Equal(t, model.CodeDuplicateValue, fes[0].Code)

	fes, err = e.validate.CheckUnique(ctx, "GLAccount", map[string]any{"code": "AS-CA-01"}, []string{"code"}, gl.ID)
	require.NoError(t, err)
	assert.Empty(t, fes)

	fes, err = e.validate.CheckUnique(ctx, "GLAccount", map[string]any{}, []string{"code"}, "")
	require.NoError(t, err)
	assert.Empty(t, fes)
}
