package blocking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcatalog/internal/masterdata"
	"mdcatalog/internal/model"
	"mdcatalog/internal/store/memory"
)

type fixture struct {
	engine *Engine
	store  *memory.Store
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := masterdata.Load()
	require.NoError(t, err)
	f := &fixture{store: memory.New(cat.Registry), clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.engine = New(cat.Registry, f.store).WithClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) create(t *testing.T, kind string, fields map[string]any) *model.Entity {
	t.Helper()
	e, err := f.store.Create(context.Background(), &model.Entity{Kind: kind, Fields: fields, CreatedAt: f.clock, UpdatedAt: f.clock})
	require.NoError(t, err)
	return e
}

func TestSetBlocked_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	region := f.create(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})

	f.clock = f.clock.Add(time.Hour)
	res, err := f.engine.SetBlocked(ctx, "SalesRegion", region.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.PreviousBlocked)
	assert.True(t, res.Blocked)
	assert.True(t, res.Entity.IsBlocked)
	assert.True(t, res.Entity.UpdatedAt.Equal(f.clock))
	assert.Equal(t, []string{"SalesArea"}, res.RestrictedKinds)

	// same status again writes nothing
	blockedAt := f.clock
	f.clock = f.clock.Add(time.Hour)
	res, err = f.engine.SetBlocked(ctx, "SalesRegion", region.ID, true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, res.Entity.UpdatedAt.Equal(blockedAt))

	res, err = f.engine.SetBlocked(ctx, "SalesRegion", region.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.PreviousBlocked)
	assert.Empty(t, res.RestrictedKinds)

	got, err := f.store.GetByID(ctx, "SalesRegion", region.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Equal(t, region.Fields, got.Fields)
	assert.True(t, got.CreatedAt.Equal(region.CreatedAt))
}

func TestSetBlocked_NoCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	region := f.create(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})
	area := f.create(t, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": region.ID})

	_, err := f.engine.SetBlocked(ctx, "SalesRegion", region.ID, true)
	require.NoError(t, err)

	got, err := f.store.GetByID(ctx, "SalesArea", area.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Equal(t, region.ID, got.Fields["salesRegionId"])
}

func TestSetBlocked_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SetBlocked(context.Background(), "SalesRegion", "nope", true)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.engine.SetBlocked(context.Background(), "Nope", "x", true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBlockedPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	region := f.create(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})
	area := f.create(t, "SalesArea", map[string]any{"code": "A", "name": "A", "salesRegionId": region.ID})
	territory := f.create(t, "SalesTerritory", map[string]any{"code": "T", "name": "T", "salesAreaId": area.ID})

	path, err := f.engine.BlockedPath(ctx, "SalesTerritory", territory.ID)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = f.engine.SetBlocked(ctx, "SalesRegion", region.ID, true)
	require.NoError(t, err)

	path, err = f.engine.BlockedPath(ctx, "SalesTerritory", territory.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{
		{Kind: "SalesTerritory", ID: territory.ID},
		{Kind: "SalesArea", ID: area.ID},
		{Kind: "SalesRegion", ID: region.ID},
	}, path)

	path, err = f.engine.BlockedPath(ctx, "SalesRegion", region.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{{Kind: "SalesRegion", ID: region.ID}}, path)
}

func TestDependents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	region := f.create(t, "SalesRegion", map[string]any{"code": "N", "name": "North"})
	f.create(t, "SalesArea", map[string]any{"code": "A1", "name": "A1", "salesRegionId": region.ID})
	f.create(t, "SalesArea", map[string]any{"code": "A2", "name": "A2", "salesRegionId": region.ID})

	deps, err := f.engine.Dependents(ctx, "SalesRegion", region.ID, 0)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "SalesArea", deps[0].Kind)
	assert.Equal(t, "salesRegionId", deps[0].Field)
	assert.Equal(t, "A1", deps[0].Entity.Code())

	deps, err = f.engine.Dependents(ctx, "SalesRegion", region.ID, 1)
	require.NoError(t, err)
	assert.Len(t, deps, 1)

	gst := f.create(t, "TaxCode", map[string]any{"code": "GST", "name": "GST"})
	f.create(t, "TaxGroup", map[string]any{"code": "G", "name": "G", "taxCodes": []string{gst.ID}})
	deps, err = f.engine.Dependents(ctx, "TaxCode", gst.ID, 0)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "taxCodes", deps[0].Field)

	_, err = f.engine.Dependents(ctx, "TaxCode", "missing", 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
