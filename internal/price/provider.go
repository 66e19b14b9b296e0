// Package price implements the composite price provider described in
// spec.md §4.3: price_at/range/candles/current/bulk, cascading through an
// in-process cache, aggregated and raw sample stores, a live external
// quotation API, and an executed-price VWAP fallback — every result tagged
// with its source and confidence (spec.md §8, invariant 8).
package price

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/metrics"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// Result is a single provenance-tagged price.
type Result struct {
	Price      money.Decimal
	Source     clientkind.PriceSource
	Confidence clientkind.Confidence
	Ts         time.Time
}

// RangeResult aggregates samples over a window.
type RangeResult struct {
	Min, Max, Avg money.Decimal
	MinTs, MaxTs  time.Time
	Source        clientkind.PriceSource
	Confidence    clientkind.Confidence
}

// Candle is one OHLC bucket.
type Candle struct {
	BucketStart                time.Time
	Open, High, Low, Close     money.Decimal
	Volume                     money.Decimal
}

// Provider answers price queries through the source cascade of spec.md §4.3.
type Provider struct {
	db       *gorm.DB
	cache    *ttlCache
	external ExternalClient

	staleness time.Duration // freshness budget for price_at, default 24h raw-sample cap
	vwapMinExecutions int
	vwapMinNotional    money.Decimal
	bulkConcurrency    int
	metrics            *metrics.Collectors
}

// Option configures a Provider.
type Option func(*Provider)

// WithExternalClient wires the live external quotation API (spec.md §4.3
// source 4). Omit in tests to exercise only the store-backed cascade.
func WithExternalClient(c ExternalClient) Option {
	return func(p *Provider) { p.external = c }
}

// WithBulkConcurrency bounds Bulk's internal fan-out (spec.md §4.3: "bounded
// internally").
func WithBulkConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.bulkConcurrency = n
		}
	}
}

// WithMetrics wires the cache-hit/miss counters (SPEC_FULL.md §3).
func WithMetrics(m *metrics.Collectors) Option {
	return func(p *Provider) { p.metrics = m }
}

// New builds a Provider backed by db.
func New(db *gorm.DB, opts ...Option) *Provider {
	p := &Provider{
		db:                 db,
		cache:              newTTLCache(time.Minute),
		staleness:          24 * time.Hour,
		vwapMinExecutions:  3,
		vwapMinNotional:    money.MustParse("100"),
		bulkConcurrency:    8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PriceAt answers the plain (price, ok, error) shape internal/position needs
// for zero-price sells and custodial transfers. It is the thin edge of
// Quote, satisfying position.PriceLookup without that package depending on
// this one's richer Result type.
func (p *Provider) PriceAt(ctx context.Context, mint string, t time.Time) (money.Decimal, bool, error) {
	res, ok, err := p.Quote(ctx, mint, t)
	if err != nil || !ok {
		return money.Zero, ok, err
	}
	return res.Price, true, nil
}

// Quote is the full price_at(mint, t) operation (spec.md §4.3): freshest
// sample at or before t, tagged with provenance, cascading through cache,
// aggregated store, raw store, external API, and VWAP fallback in order.
func (p *Provider) Quote(ctx context.Context, mint string, t time.Time) (Result, bool, error) {
	// Only answers for an instant inside the cache's freshness window are
	// cached, so a historical price is never served as the current one.
	now := time.Now()
	cacheable := !t.After(now) && now.Sub(t) <= p.cache.ttl

	if res, ok := p.cache.get(mint, t); ok {
		if p.metrics != nil {
			p.metrics.PriceCacheHits.Inc()
		}
		return res, true, nil
	}
	if p.metrics != nil {
		p.metrics.PriceCacheMisses.Inc()
	}

	if res, ok, err := p.queryAggregated(ctx, mint, t); err != nil {
		return Result{}, false, err
	} else if ok {
		if cacheable {
			p.cache.put(mint, res)
		}
		return res, true, nil
	}

	if res, ok, err := p.queryRaw(ctx, mint, t); err != nil {
		return Result{}, false, err
	} else if ok {
		if cacheable {
			p.cache.put(mint, res)
		}
		return res, true, nil
	}

	if p.external != nil {
		if res, ok, err := p.fetchAndPersistExternal(ctx, mint, t); err != nil {
			// transient external errors are non-fatal to the cascade; fall
			// through to VWAP rather than failing the whole query.
			_ = err
		} else if ok {
			if cacheable {
				p.cache.put(mint, res)
			}
			return res, true, nil
		}
	}

	res, ok, err := p.vwapFallback(ctx, mint, t)
	if err != nil {
		return Result{}, false, err
	}
	if ok {
		return res, true, nil
	}
	return Result{}, false, nil
}

// Current is price_at(mint, now).
func (p *Provider) Current(ctx context.Context, mint string) (Result, bool, error) {
	return p.Quote(ctx, mint, time.Now())
}

// Bulk answers Quote for many mints with internally bounded concurrency
// (spec.md §4.3).
func (p *Provider) Bulk(ctx context.Context, mints []string, t time.Time) map[string]Result {
	type outcome struct {
		mint string
		res  Result
		ok   bool
	}

	sem := make(chan struct{}, p.bulkConcurrency)
	out := make(chan outcome, len(mints))

	for _, m := range mints {
		m := m
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			res, ok, err := p.Quote(ctx, m, t)
			if err != nil {
				out <- outcome{mint: m, ok: false}
				return
			}
			out <- outcome{mint: m, res: res, ok: ok}
		}()
	}

	results := make(map[string]Result, len(mints))
	for range mints {
		o := <-out
		if o.ok {
			results[o.mint] = o.res
		}
	}
	return results
}

// queryRaw is the "exact or latest-before within a 24h hard cap" source
// (spec.md §4.3 source 3), backed directly by the token_prices table.
func (p *Provider) queryRaw(ctx context.Context, mint string, t time.Time) (Result, bool, error) {
	var row store.TokenPrice
	cutoff := t.Add(-p.staleness)

	err := p.db.WithContext(ctx).
		Where("mint = ? AND ts <= ? AND ts >= ?", mint, t, cutoff).
		Order("ts desc").
		Limit(1).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("price: failed to query raw samples for %s: %w", mint, err)
	}

	confidence := clientkind.ConfidenceMedium
	if row.Source == clientkind.SourceObserved || row.Source == clientkind.SourceVWAP {
		confidence = clientkind.ConfidenceLow
	}
	if row.Confidence != "" {
		confidence = row.Confidence
	}

	return Result{Price: row.Price.Decimal, Source: row.Source, Confidence: confidence, Ts: row.Ts}, true, nil
}
