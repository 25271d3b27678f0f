package catalog

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mdcatalog/internal/model"
)

// BulkResult is the outcome of one bulk item. Exactly one of Entity and Err
// is set.
type BulkResult struct {
	Index  int
	Entity *model.Entity
	Err    error
}

// BulkCreate creates every item independently. Results keep input order;
// one failing item does not affect the others.
func (e *Engine) BulkCreate(ctx context.Context, kind string, items []map[string]any, strict bool) ([]BulkResult, error) {
	k, err := e.reg.Describe(kind)
	if err != nil {
		return nil, err
	}
	results := make([]BulkResult, len(items))
	run := func(ctx context.Context, i int) {
		ent, err := e.Create(ctx, k.Name, items[i], strict)
		results[i] = BulkResult{Index: i, Entity: ent, Err: err}
	}

	if e.pool == nil {
		for i := range items {
			if ctx.Err() != nil {
				break
			}
			run(ctx, i)
		}
	} else if err := e.pool.Each(ctx, len(items), run); err != nil && !errors.Is(err, ctx.Err()) {
		e.log.Warn("bulk submit failed", zap.String("kind", k.Name), zap.Error(err))
	}

	for i := range results {
		if results[i].Entity == nil && results[i].Err == nil {
			cause := ctx.Err()
			if cause == nil {
				cause = errors.New("item was not processed")
			}
			results[i] = BulkResult{Index: i, Err: model.Unavailable("bulk create "+k.Name, cause)}
		}
	}
	return results, nil
}

// BulkSummary counts successes and failures.
func BulkSummary(results []BulkResult) (created, failed int) {
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			created++
		}
	}
	return created, failed
}
