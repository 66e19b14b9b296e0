package price

import (
	"context"
	"fmt"
	"time"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// vwapWindow is how far on either side of t executed swaps are pooled to
// build a fallback price (spec.md §4.3 source 5).
const vwapWindow = time.Hour

// vwapFallback reconstructs a price from executed buy/sell/swap actions
// around t when no quoted source is available. Requires at least
// vwapMinExecutions fills totaling at least vwapMinNotional USD, or it
// reports no result rather than guessing from thin data.
func (p *Provider) vwapFallback(ctx context.Context, mint string, t time.Time) (Result, bool, error) {
	var actions []store.Action
	err := p.db.WithContext(ctx).
		Where("mint = ? AND kind IN ? AND ts >= ? AND ts <= ? AND exec_px_usd_dec IS NOT NULL AND amount_dec IS NOT NULL",
			mint,
			[]clientkind.ActionKind{clientkind.ActionBuy, clientkind.ActionSell, clientkind.ActionSwap},
			t.Add(-vwapWindow), t.Add(vwapWindow)).
		Order("ts asc").
		Find(&actions).Error
	if err != nil {
		return Result{}, false, fmt.Errorf("price: failed to query executions for vwap fallback on %s: %w", mint, err)
	}

	if len(actions) < p.vwapMinExecutions {
		return Result{}, false, nil
	}

	notional := money.Zero
	volume := money.Zero
	var latestTs time.Time

	for _, a := range actions {
		qty := a.AmountDec.Decimal
		px := a.ExecPxUSDDec.Decimal

		notional = notional.Add(qty.Mul(px))
		volume = volume.Add(qty)
		if a.Ts.After(latestTs) {
			latestTs = a.Ts
		}
	}

	if notional.LessThan(p.vwapMinNotional) {
		return Result{}, false, nil
	}
	if volume.Sign() == 0 {
		return Result{}, false, nil
	}

	vwap := notionalWeightedAverage(actions)

	res := Result{Price: vwap, Source: clientkind.SourceVWAP, Confidence: clientkind.ConfidenceLow, Ts: latestTs}

	row := store.TokenPrice{Mint: mint, Ts: t, Price: money.Column{Decimal: vwap}, Source: clientkind.SourceVWAP, Confidence: clientkind.ConfidenceLow}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		_ = err // best-effort persistence, same as the external-source path
	}

	return res, true, nil
}

// notionalWeightedAverage computes sum(qty*px)/sum(qty) — the standard VWAP
// definition, kept separate from vwapFallback's notional-floor bookkeeping
// for clarity.
func notionalWeightedAverage(actions []store.Action) money.Decimal {
	numerator := money.Zero
	volume := money.Zero
	for _, a := range actions {
		qty := a.AmountDec.Decimal
		px := a.ExecPxUSDDec.Decimal
		numerator = numerator.Add(qty.Mul(px))
		volume = volume.Add(qty)
	}
	return numerator.Div(volume)
}
