package enrichment

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
)

const (
	ColumnTimestamp = "sf_enrichment_timestamp"
	ColumnSource    = "sf_enrichment_source"

	DefaultSource      = "warehouse"
	DefaultConcurrency = 8
)

// Stats counts enrichment activity over a batch.
type Stats struct {
	Rows     int
	Enriched int
	Lookups  int
	Hits     int
	Failures int
}

// Gateway merges warehouse data into rows. It never removes a row or a
// column, and a miss or failure leaves the row untouched for that category.
type Gateway struct {
	warehouse   Warehouse
	categories  []domain.Category
	concurrency int
	source      string
	now         func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCategories limits lookups to the given categories.
func WithCategories(categories ...domain.Category) Option {
	return func(g *Gateway) { g.categories = categories }
}

func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

func WithSource(source string) Option {
	return func(g *Gateway) { g.source = source }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(warehouse Warehouse, opts ...Option) *Gateway {
	g := &Gateway{
		warehouse:   warehouse,
		categories:  domain.AllCategories,
		concurrency: DefaultConcurrency,
		source:      DefaultSource,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// lookupItem carries one row through the lookup stage. Each step writes
// only its own slot of records.
type lookupItem struct {
	keys    Keys
	records []*domain.EnrichmentRecord
	lookups atomic.Int32
	hits    atomic.Int32
}

func (g *Gateway) step(index int, category domain.Category) Step[lookupItem] {
	return func(ctx context.Context, item *lookupItem) error {
		if _, ok := item.keys.For(category); !ok {
			return nil
		}
		item.lookups.Add(1)
		rec, ok, err := g.warehouse.Lookup(ctx, category, item.keys)
		if err != nil {
			return err
		}
		if ok {
			item.hits.Add(1)
			item.records[index] = &rec
		}
		return nil
	}
}

// RowResult reports what enrichment did to one row.
type RowResult struct {
	Hit      bool
	Lookups  int
	Hits     int
	Failures int
}

// EnrichRow looks up every enabled category for one row and merges hits
// in category order.
func (g *Gateway) EnrichRow(ctx context.Context, row *domain.Row) RowResult {
	item := &lookupItem{
		keys:    DeriveKeys(row),
		records: make([]*domain.EnrichmentRecord, len(g.categories)),
	}
	steps := make([]Step[lookupItem], len(g.categories))
	for i, category := range g.categories {
		steps[i] = g.step(i, category)
	}
	failures := NewStage(steps...).Run(ctx, item)

	hit := false
	for _, rec := range item.records {
		if rec == nil {
			continue
		}
		hit = true
		for _, col := range rec.Columns {
			row.Set(col, rec.Fields[col])
		}
	}
	if hit {
		row.Set(ColumnTimestamp, g.now().UTC().Format(time.RFC3339))
		row.Set(ColumnSource, g.source)
	}
	return RowResult{
		Hit:      hit,
		Lookups:  int(item.lookups.Load()),
		Hits:     int(item.hits.Load()),
		Failures: failures,
	}
}

// EnrichAll enriches rows concurrently. Each row is touched by exactly one
// goroutine.
func (g *Gateway) EnrichAll(ctx context.Context, rows []*domain.Row) Stats {
	log := logger.FromContext(ctx)
	var enriched, lookups, hits, failures atomic.Int64

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, row := range rows {
		eg.Go(func() error {
			res := g.EnrichRow(egctx, row)
			if res.Hit {
				enriched.Add(1)
			}
			lookups.Add(int64(res.Lookups))
			hits.Add(int64(res.Hits))
			failures.Add(int64(res.Failures))
			if res.Failures > 0 {
				log.Warn("enrichment lookups failed", "row", row.Index, "failures", res.Failures)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return Stats{
		Rows:     len(rows),
		Enriched: int(enriched.Load()),
		Lookups:  int(lookups.Load()),
		Hits:     int(hits.Load()),
		Failures: int(failures.Load()),
	}
}
