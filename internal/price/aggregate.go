package price

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// bucketForAge selects the materialized-view width and staleness tolerance
// for a query this far in the past (spec.md §4.3: "1-minute bucket for ≤7
// days, 5-minute for ≤180 days, 1-hour beyond… staleness tolerance of one
// bucket").
func bucketForAge(age time.Duration) (clientkind.CandleBucket, time.Duration) {
	switch {
	case age <= 7*24*time.Hour:
		return clientkind.Bucket1m, bucketWidths[clientkind.Bucket1m]
	case age <= 180*24*time.Hour:
		return clientkind.Bucket5m, bucketWidths[clientkind.Bucket5m]
	default:
		return clientkind.Bucket1h, bucketWidths[clientkind.Bucket1h]
	}
}

// queryAggregated is the "time-bucketed materialized view" source (spec.md
// §4.3 source 2): cheaper than the raw store for frequently re-queried
// historical instants, rebuilt by the refresh_materialized_views job.
// A bucket's close price stands in for any t it contains. The bucket width
// and staleness tolerance scale with how far in the past t is.
func (p *Provider) queryAggregated(ctx context.Context, mint string, t time.Time) (Result, bool, error) {
	width, staleness := bucketForAge(time.Since(t))

	var row store.TokenPriceBucket
	err := p.db.WithContext(ctx).
		Where("mint = ? AND bucket_width = ? AND bucket_ts <= ?", mint, width, t).
		Order("bucket_ts desc").
		Limit(1).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("price: failed to query aggregated buckets for %s: %w", mint, err)
	}

	// A bucket only stands in for t if t actually falls inside its width.
	if t.Sub(row.BucketTs) > staleness {
		return Result{}, false, nil
	}

	return Result{
		Price:      row.Close.Decimal,
		Source:     row.Source,
		Confidence: row.Confidence,
		Ts:         row.BucketTs,
	}, true, nil
}

// Range answers range(mint, t0, t1) from the aggregated store when
// available, falling back to the raw sample store otherwise (spec.md §4.3's
// range operation).
func (p *Provider) Range(ctx context.Context, mint string, t0, t1 time.Time) (RangeResult, bool, error) {
	width, _ := bucketForAge(time.Since(t0))

	var buckets []store.TokenPriceBucket
	err := p.db.WithContext(ctx).
		Where("mint = ? AND bucket_width = ? AND bucket_ts >= ? AND bucket_ts <= ?", mint, width, t0, t1).
		Order("bucket_ts asc").
		Find(&buckets).Error
	if err != nil {
		return RangeResult{}, false, fmt.Errorf("price: failed to query range buckets for %s: %w", mint, err)
	}

	if len(buckets) > 0 {
		return summarizeBuckets(buckets), true, nil
	}

	var samples []store.TokenPrice
	err = p.db.WithContext(ctx).
		Where("mint = ? AND ts >= ? AND ts <= ?", mint, t0, t1).
		Order("ts asc").
		Find(&samples).Error
	if err != nil {
		return RangeResult{}, false, fmt.Errorf("price: failed to query range samples for %s: %w", mint, err)
	}
	if len(samples) == 0 {
		return RangeResult{}, false, nil
	}
	return summarizeSamples(samples), true, nil
}

// Candles answers candles(mint, t0, t1, bucket) directly from the
// materialized bucket store.
func (p *Provider) Candles(ctx context.Context, mint string, t0, t1 time.Time, bucket clientkind.CandleBucket) ([]Candle, error) {
	var rows []store.TokenPriceBucket
	err := p.db.WithContext(ctx).
		Where("mint = ? AND bucket_width = ? AND bucket_ts >= ? AND bucket_ts <= ?", mint, bucket, t0, t1).
		Order("bucket_ts asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("price: failed to query candles for %s: %w", mint, err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, Candle{
			BucketStart: r.BucketTs,
			Open:        r.Open.Decimal,
			High:        r.High.Decimal,
			Low:         r.Low.Decimal,
			Close:       r.Close.Decimal,
			Volume:      r.Volume.Decimal,
		})
	}
	return candles, nil
}

func summarizeBuckets(buckets []store.TokenPriceBucket) RangeResult {
	min, max := buckets[0].Low.Decimal, buckets[0].High.Decimal
	sum := buckets[0].Close.Decimal
	minTs, maxTs := buckets[0].BucketTs, buckets[0].BucketTs
	worstConfidence := buckets[0].Confidence

	for _, b := range buckets[1:] {
		if b.Low.Decimal.LessThan(min) {
			min = b.Low.Decimal
			minTs = b.BucketTs
		}
		if b.High.Decimal.GreaterThan(max) {
			max = b.High.Decimal
			maxTs = b.BucketTs
		}
		sum = sum.Add(b.Close.Decimal)
		if confidenceRank(b.Confidence) < confidenceRank(worstConfidence) {
			worstConfidence = b.Confidence
		}
	}

	avg := sum.Div(decimalFromInt(len(buckets)))
	return RangeResult{
		Min: min, Max: max, Avg: avg,
		MinTs: minTs, MaxTs: maxTs,
		Source:     clientkind.SourceExternal,
		Confidence: worstConfidence,
	}
}

func summarizeSamples(samples []store.TokenPrice) RangeResult {
	min, max := samples[0].Price.Decimal, samples[0].Price.Decimal
	sum := samples[0].Price.Decimal
	minTs, maxTs := samples[0].Ts, samples[0].Ts
	worstConfidence := samples[0].Confidence

	for _, s := range samples[1:] {
		if s.Price.Decimal.LessThan(min) {
			min = s.Price.Decimal
			minTs = s.Ts
		}
		if s.Price.Decimal.GreaterThan(max) {
			max = s.Price.Decimal
			maxTs = s.Ts
		}
		sum = sum.Add(s.Price.Decimal)
		if confidenceRank(s.Confidence) < confidenceRank(worstConfidence) {
			worstConfidence = s.Confidence
		}
	}

	avg := sum.Div(decimalFromInt(len(samples)))
	return RangeResult{
		Min: min, Max: max, Avg: avg,
		MinTs: minTs, MaxTs: maxTs,
		Source:     samples[0].Source,
		Confidence: worstConfidence,
	}
}

// confidenceRank orders confidence levels so a range spanning mixed-quality
// samples reports the worst one, never overstating certainty.
func confidenceRank(c clientkind.Confidence) int {
	switch c {
	case clientkind.ConfidenceHigh:
		return 2
	case clientkind.ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

func decimalFromInt(n int) money.Decimal {
	return money.New(int64(n), 0)
}
