package price

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// bucketWidths maps every candle width spec.md §4.3 names to its duration.
var bucketWidths = map[clientkind.CandleBucket]time.Duration{
	clientkind.Bucket1m: time.Minute,
	clientkind.Bucket5m: 5 * time.Minute,
	clientkind.Bucket1h: time.Hour,
	clientkind.Bucket1d: 24 * time.Hour,
}

// RefreshMaterializedViews rebuilds the time-bucketed aggregated store
// (spec.md §4.3 source 2) from raw samples taken within lookback, one pass
// per mint with recent samples and per supported bucket width. Run
// periodically by the refresh_materialized_views job, independent of
// refresh_prices.
func (p *Provider) RefreshMaterializedViews(ctx context.Context, lookback time.Duration) error {
	cutoff := time.Now().Add(-lookback)

	var mints []string
	if err := p.db.WithContext(ctx).Model(&store.TokenPrice{}).
		Where("ts >= ?", cutoff).
		Distinct("mint").
		Pluck("mint", &mints).Error; err != nil {
		return fmt.Errorf("price: failed to list mints for materialized view refresh: %w", err)
	}

	for _, mint := range mints {
		var samples []store.TokenPrice
		if err := p.db.WithContext(ctx).
			Where("mint = ? AND ts >= ?", mint, cutoff).
			Order("ts asc").
			Find(&samples).Error; err != nil {
			return fmt.Errorf("price: failed to load samples for %s: %w", mint, err)
		}
		if len(samples) == 0 {
			continue
		}

		for width, dur := range bucketWidths {
			buckets := bucketize(mint, samples, width, dur)
			if len(buckets) == 0 {
				continue
			}
			if err := p.db.WithContext(ctx).
				Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&buckets).Error; err != nil {
				return fmt.Errorf("price: failed to persist %s buckets for %s: %w", width, mint, err)
			}
		}
	}
	return nil
}

// bucketAgg accumulates one OHLC bucket while scanning samples in
// chronological order.
type bucketAgg struct {
	ts                     time.Time
	open, high, low, close money.Decimal
	source                 clientkind.PriceSource
	confidence             clientkind.Confidence
	opened                 bool
}

// bucketize groups chronologically ordered samples into OHLC buckets
// aligned to UTC bucket boundaries (spec.md §4.3: "Bucket boundaries align
// to UTC"). Volume is always 0: execution volume is not tracked at the
// price-sample granularity (spec.md §4.3: "volume = 0 when not tracked").
func bucketize(mint string, samples []store.TokenPrice, width clientkind.CandleBucket, dur time.Duration) []store.TokenPriceBucket {
	order := make([]time.Time, 0)
	byKey := make(map[int64]*bucketAgg)

	for _, s := range samples {
		bucketStart := s.Ts.UTC().Truncate(dur)
		key := bucketStart.Unix()
		a, ok := byKey[key]
		if !ok {
			a = &bucketAgg{ts: bucketStart}
			byKey[key] = a
			order = append(order, bucketStart)
		}
		if !a.opened {
			a.open = s.Price.Decimal
			a.high = s.Price.Decimal
			a.low = s.Price.Decimal
			a.source = s.Source
			a.confidence = s.Confidence
			a.opened = true
		}
		if s.Price.Decimal.GreaterThan(a.high) {
			a.high = s.Price.Decimal
		}
		if s.Price.Decimal.LessThan(a.low) {
			a.low = s.Price.Decimal
		}
		a.close = s.Price.Decimal
		// A sample later in a bucket can carry a worse confidence than the
		// one the bucket opened with; keep the worst seen, same rationale
		// as summarizeBuckets/summarizeSamples in aggregate.go.
		if confidenceRank(s.Confidence) < confidenceRank(a.confidence) {
			a.confidence = s.Confidence
		}
	}

	out := make([]store.TokenPriceBucket, 0, len(order))
	for _, ts := range order {
		a := byKey[ts.Unix()]
		out = append(out, store.TokenPriceBucket{
			Mint:        mint,
			BucketWidth: width,
			BucketTs:    a.ts,
			Open:        money.Column{Decimal: a.open},
			High:        money.Column{Decimal: a.high},
			Low:         money.Column{Decimal: a.low},
			Close:       money.Column{Decimal: a.close},
			Volume:      money.Column{Decimal: money.Zero},
			Source:      a.source,
			Confidence:  a.confidence,
		})
	}
	return out
}
