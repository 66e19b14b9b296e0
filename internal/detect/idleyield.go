package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// IdleYieldMint is one configured yield-bearing mint to scan (spec.md §4.4,
// §9 open question — see DESIGN.md: kept as a list rather than a single
// mint).
type IdleYieldMint struct {
	Mint               string
	AnnualizedYieldPct money.Decimal
	LookbackDays       int
}

// IdleYieldScanner runs the IdleYield detector's periodic (not per-event)
// scan, driven by the calculate_extremes job rather than Dispatch.
type IdleYieldScanner struct {
	db     *gorm.DB
	Prices PriceLookup
	MinUSD money.Decimal
	Mints  []IdleYieldMint
}

// NewIdleYieldScanner builds a scanner over the configured mint list.
func NewIdleYieldScanner(db *gorm.DB, prices PriceLookup, minUSD money.Decimal, mints []IdleYieldMint) *IdleYieldScanner {
	return &IdleYieldScanner{db: db, Prices: prices, MinUSD: minUSD, Mints: mints}
}

// Scan computes, for each configured mint, the wallet's held exposure
// multiplied by the mint's annualized yield rate and the lookback window's
// elapsed fraction of a year, converted to USD at the window's average
// price (spec.md §4.4). Exposure is approximated by the wallet's current
// open-lot quantity for that mint: Lot rows are mutated in place and do not
// retain historical time series, so a true time-weighted average over the
// lookback window would require replaying every action in it; the current
// snapshot is the cheapest sound proxy spec.md's data model supports.
func (s *IdleYieldScanner) Scan(ctx context.Context, wallet string) ([]*store.Moment, error) {
	var moments []*store.Moment

	for _, cfg := range s.Mints {
		moment, err := s.scanOne(ctx, wallet, cfg)
		if err != nil {
			return moments, fmt.Errorf("idle_yield: scan failed for %s/%s: %w", wallet, cfg.Mint, err)
		}
		if moment != nil {
			moments = append(moments, moment)
		}
	}
	return moments, nil
}

func (s *IdleYieldScanner) scanOne(ctx context.Context, wallet string, cfg IdleYieldMint) (*store.Moment, error) {
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	windowEnd := time.Now()
	windowStart := windowEnd.AddDate(0, 0, -lookback)

	exposure, err := s.exposure(ctx, wallet, cfg.Mint)
	if err != nil {
		return nil, err
	}
	if exposure.Sign() <= 0 {
		return nil, nil
	}

	rng, ok, err := s.Prices.Range(ctx, cfg.Mint, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("price range lookup failed: %w", err)
	}
	if !ok || rng.Avg.Sign() <= 0 {
		return nil, nil
	}

	elapsedFraction := money.New(int64(lookback), 0).Div(money.New(365, 0))
	exposureUSD := exposure.Mul(rng.Avg)
	missedUSD := exposureUSD.Mul(cfg.AnnualizedYieldPct).Mul(elapsedFraction)

	if missedUSD.LessThan(s.MinUSD) {
		return nil, nil
	}

	explain, err := json.Marshal(map[string]interface{}{
		"detector":             "idle_yield",
		"mint":                 cfg.Mint,
		"exposure":             exposure.String(),
		"avg_px_usd":           rng.Avg.String(),
		"annualized_yield_pct": cfg.AnnualizedYieldPct.String(),
		"lookback_days":        lookback,
		"source":               rng.Source,
		"confidence":           rng.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode explain doc: %w", err)
	}

	mint := cfg.Mint
	window := fmt.Sprintf("%dd", lookback)

	return &store.Moment{
		ID:           ids.New(),
		Wallet:       wallet,
		Mint:         &mint,
		Kind:         clientkind.MomentIdleYield,
		TEvent:       windowEnd,
		Window:       window,
		MissedUSDDec: &money.Column{Decimal: missedUSD},
		SeverityDec:  money.Column{Decimal: scaledSeverity(missedUSD.Div(money.New(1000, 0)), money.New(1, 0))},
		Version:      1,
		Explain:      string(explain),
	}, nil
}

func (s *IdleYieldScanner) exposure(ctx context.Context, wallet, mint string) (money.Decimal, error) {
	var lots []store.Lot
	if err := s.db.WithContext(ctx).Where("wallet = ? AND mint = ?", wallet, mint).Find(&lots).Error; err != nil {
		return money.Zero, fmt.Errorf("failed to query lots: %w", err)
	}
	total := money.Zero
	for _, l := range lots {
		total = total.Add(l.QtyRemaining.Decimal)
	}
	return total, nil
}

// RunIdleYield runs scanner for wallet and persists/publishes any emitted
// moments through the same path Dispatch uses, keeping isolation and
// fan-out uniform across per-event and periodic detectors.
func (f *Framework) RunIdleYield(ctx context.Context, scanner *IdleYieldScanner, wallet string) []*store.Moment {
	moments, err := scanner.Scan(ctx, wallet)
	if err != nil {
		f.recordFailure("idle_yield")
		return nil
	}

	var emitted []*store.Moment
	for _, m := range moments {
		if err := f.persistAndPublish(ctx, m); err != nil {
			continue
		}
		emitted = append(emitted, m)
	}
	return emitted
}
