// Package storetest is a behaviour suite every store.Store backend runs.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcatalog/internal/dsl"
	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
)

const fixtureDSL = `
module sales

entity SalesRegion:
  code: string required unique trim
  name: string required trim

entity SalesArea:
  code: string required unique trim
  name: string required trim
  salesRegionId: ref[SalesRegion] required

module finance

entity TaxCode:
  code: string required unique trim
  name: string required trim
  rate: number
  active: bool default=true

entity TaxGroup:
  code: string required unique trim
  name: string required trim
  taxCodes: array[ref[TaxCode]]
  extra: json
`

// Registry returns the sealed fixture schema used by the suite.
func Registry(t testing.TB) *schema.Registry {
	t.Helper()
	ents, err := dsl.Parse(strings.NewReader(fixtureDSL), "fixture.dsl")
	require.NoError(t, err)
	reg, err := schema.FromDSL(ents, nil)
	require.NoError(t, err)
	return reg
}

// Factory opens a fresh, empty store for reg.
type Factory func(t *testing.T, reg *schema.Registry) store.Store

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func entity(kind string, fields map[string]any) *model.Entity {
	return &model.Entity{Kind: kind, Fields: fields, CreatedAt: t0, UpdatedAt: t0}
}

func mustCreate(t *testing.T, s store.Store, kind string, fields map[string]any) *model.Entity {
	t.Helper()
	e, err := s.Create(context.Background(), entity(kind, fields))
	require.NoError(t, err)
	return e
}

func codes(items []*model.Entity) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Code()
	}
	return out
}

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t, Registry(t))
		e := mustCreate(t, s, "TaxCode", map[string]any{"code": "GST", "name": "Sales tax", "rate": 17.0, "active": true})
		require.NotEmpty(t, e.ID)
		assert.Equal(t, "TaxCode", e.Kind)

		got, err := s.GetByID(ctx, "TaxCode", e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, "GST", got.Fields["code"])
		assert.Equal(t, 17.0, got.Fields["rate"])
		assert.Equal(t, true, got.Fields["active"])
		assert.False(t, got.IsBlocked)
		assert.True(t, got.CreatedAt.Equal(t0))

		byCode, err := s.FindByCode(ctx, "TaxCode", "GST")
		require.NoError(t, err)
		assert.Equal(t, e.ID, byCode.ID)

		byRate, err := s.FindByField(ctx, "TaxCode", "rate", 17.0)
		require.NoError(t, err)
		assert.Equal(t, e.ID, byRate.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := open(t, Registry(t))
		_, err := s.GetByID(ctx, "TaxCode", "01HZZZZZZZZZZZZZZZZZZZZZZZ")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.FindByCode(ctx, "TaxCode", "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.GetByID(ctx, "Unknown", "x")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.SetBlocked(ctx, "TaxCode", "missing", true, t0)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.Update(ctx, &model.Entity{ID: "missing", Kind: "TaxCode", Fields: map[string]any{"code": "X", "name": "X"}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("DuplicateValue", func(t *testing.T) {
		s := open(t, Registry(t))
		mustCreate(t, s, "SalesRegion", map[string]any{"code": "N", "name": "North"})
		_, err := s.Create(ctx, entity("SalesRegion", map[string]any{"code": "N", "name": "Other"}))
		ve, ok := model.AsValidation(err)
		require.True(t, ok, "got %v", err)
		require.Len(t, ve.Errors, 1)
		assert.Equal(t, model.CodeDuplicateValue, ve.Errors[0].Code)
		assert.Equal(t, "code", ve.Errors[0].Field)
		assert.Equal(t, "SalesRegion", ve.Errors[0].Kind)
	})

	t.Run("DanglingReferenceNotPersisted", func(t *testing.T) {
		s := open(t, Registry(t))
		_, err := s.Create(ctx, entity("SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": "01HNOPENOPENOPENOPENOPENOP"}))
		ve, ok := model.AsValidation(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, []string{model.CodeDanglingReference}, ve.Codes())

		page, err := s.List(ctx, "SalesArea", store.Filter{Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})

	t.Run("ConcurrentDuplicateCreates", func(t *testing.T) {
		s := open(t, Registry(t))
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Create(ctx, entity("SalesRegion", map[string]any{"code": "DUP", "name": fmt.Sprint("r", i)}))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			ve, isVal := model.AsValidation(err)
			require.True(t, isVal, "got %v", err)
			assert.Equal(t, []string{model.CodeDuplicateValue}, ve.Codes())
		}
		assert.Equal(t, 1, ok)
		page, err := s.List(ctx, "SalesRegion", store.Filter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("Update", func(t *testing.T) {
		s := open(t, Registry(t))
		a := mustCreate(t, s, "SalesRegion", map[string]any{"code": "A", "name": "Alpha"})
		mustCreate(t, s, "SalesRegion", map[string]any{"code": "B", "name": "Beta"})

		later := t0.Add(time.Hour)
		up, err := s.Update(ctx, &model.Entity{ID: a.ID, Kind: "SalesRegion", Fields: map[string]any{"code": "A", "name": "Alpha 2"}, UpdatedAt: later})
		require.NoError(t, err)
		assert.Equal(t, "Alpha 2", up.Fields["name"])
		assert.True(t, up.CreatedAt.Equal(t0))
		assert.True(t, up.UpdatedAt.Equal(later))

		_, err = s.Update(ctx, &model.Entity{ID: a.ID, Kind: "SalesRegion", Fields: map[string]any{"code": "B", "name": "Alpha"}, UpdatedAt: later})
		ve, ok := model.AsValidation(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, []string{model.CodeDuplicateValue}, ve.Codes())

		// the old code is released by a rename
		_, err = s.Update(ctx, &model.Entity{ID: a.ID, Kind: "SalesRegion", Fields: map[string]any{"code": "C", "name": "Alpha"}, UpdatedAt: later})
		require.NoError(t, err)
		mustCreate(t, s, "SalesRegion", map[string]any{"code": "A", "name": "New A"})
	})

	t.Run("ListFilterSortWindow", func(t *testing.T) {
		s := open(t, Registry(t))
		mustCreate(t, s, "TaxCode", map[string]any{"code": "T1", "name": "Zero rated", "rate": 0.0})
		mustCreate(t, s, "TaxCode", map[string]any{"code": "T2", "name": "Standard", "rate": 17.0})
		t3 := mustCreate(t, s, "TaxCode", map[string]any{"code": "T3", "name": "Reduced", "rate": 5.0})
		mustCreate(t, s, "TaxCode", map[string]any{"code": "T4", "name": "Exempt"})
		_, err := s.SetBlocked(ctx, "TaxCode", t3.ID, true, t0)
		require.NoError(t, err)

		page, err := s.List(ctx, "TaxCode", store.Filter{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, []string{"T1", "T2", "T3", "T4"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Conds: []store.Cond{{Field: "rate", Op: store.OpGte, Values: []string{"5"}}}, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T2", "T3"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Conds: []store.Cond{{Field: "code", Op: store.OpIn, Values: []string{"T1", "T4"}}}, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T1", "T4"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Conds: []store.Cond{{Field: "code", Op: store.OpEq, Values: []string{"t1"}}}, Limit: 50})
		require.NoError(t, err)
		assert.Zero(t, page.Total)

		blocked := true
		page, err = s.List(ctx, "TaxCode", store.Filter{Blocked: &blocked, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T3"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Q: "RATED", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T1"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Sort: []store.SortKey{{Field: "rate", Desc: true}}, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T2", "T3", "T1", "T4"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Sort: []store.SortKey{{Field: "name"}}, Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, []string{"T3", "T2"}, codes(page.Items))

		page, err = s.List(ctx, "TaxCode", store.Filter{Limit: 10, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Empty(t, page.Items)
	})

	t.Run("SetBlocked", func(t *testing.T) {
		s := open(t, Registry(t))
		r := mustCreate(t, s, "SalesRegion", map[string]any{"code": "N", "name": "North"})
		later := t0.Add(time.Minute)

		b, err := s.SetBlocked(ctx, "SalesRegion", r.ID, true, later)
		require.NoError(t, err)
		assert.True(t, b.IsBlocked)
		assert.True(t, b.UpdatedAt.Equal(later))
		assert.Equal(t, r.Fields, b.Fields)

		u, err := s.SetBlocked(ctx, "SalesRegion", r.ID, false, later)
		require.NoError(t, err)
		assert.False(t, u.IsBlocked)
		assert.Equal(t, r.Fields, u.Fields)
	})

	t.Run("FindReferencing", func(t *testing.T) {
		s := open(t, Registry(t))
		north := mustCreate(t, s, "SalesRegion", map[string]any{"code": "N", "name": "North"})
		south := mustCreate(t, s, "SalesRegion", map[string]any{"code": "S", "name": "South"})
		mustCreate(t, s, "SalesArea", map[string]any{"code": "A1", "name": "A1", "salesRegionId": north.ID})
		mustCreate(t, s, "SalesArea", map[string]any{"code": "A2", "name": "A2", "salesRegionId": north.ID})
		mustCreate(t, s, "SalesArea", map[string]any{"code": "A3", "name": "A3", "salesRegionId": south.ID})

		refs, err := s.FindReferencing(ctx, "SalesArea", "salesRegionId", false, north.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"A1", "A2"}, codes(refs))

		refs, err = s.FindReferencing(ctx, "SalesArea", "salesRegionId", false, north.ID, 1)
		require.NoError(t, err)
		assert.Len(t, refs, 1)

		gst := mustCreate(t, s, "TaxCode", map[string]any{"code": "GST", "name": "GST"})
		wht := mustCreate(t, s, "TaxCode", map[string]any{"code": "WHT", "name": "WHT"})
		g := mustCreate(t, s, "TaxGroup", map[string]any{"code": "G", "name": "G", "taxCodes": []string{gst.ID, wht.ID}, "extra": map[string]any{"k": "v"}})
		assert.Equal(t, []string{gst.ID, wht.ID}, g.Fields["taxCodes"])

		got, err := s.GetByID(ctx, "TaxGroup", g.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{gst.ID, wht.ID}, got.Fields["taxCodes"])
		assert.Equal(t, map[string]any{"k": "v"}, got.Fields["extra"])

		refs, err = s.FindReferencing(ctx, "TaxGroup", "taxCodes", true, wht.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"G"}, codes(refs))

		page, err := s.List(ctx, "TaxGroup", store.Filter{Conds: []store.Cond{{Field: "taxCodes", Op: store.OpEq, Values: []string{gst.ID}}}, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		_, err = s.Create(ctx, entity("TaxGroup", map[string]any{"code": "H", "name": "H", "taxCodes": []string{gst.ID, "01HNOPENOPENOPENOPENOPENOP"}}))
		ve, ok := model.AsValidation(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, []string{model.CodeDanglingReference}, ve.Codes())
	})

	t.Run("ReturnedCopiesAreDetached", func(t *testing.T) {
		s := open(t, Registry(t))
		e := mustCreate(t, s, "SalesRegion", map[string]any{"code": "N", "name": "North"})
		e.Fields["name"] = "mutated"
		got, err := s.GetByID(ctx, "SalesRegion", e.ID)
		require.NoError(t, err)
		assert.Equal(t, "North", got.Fields["name"])
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := open(t, Registry(t))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.GetByID(cctx, "SalesRegion", "x")
		assert.ErrorIs(t, err, model.ErrUnavailable)
	})
}
