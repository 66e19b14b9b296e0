package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// s2eWindow is the forward-looking window checked for a better exit price.
const s2eWindow = 7 * 24 * time.Hour

// s2eSeverityCeiling is the missed_pct at which S2E severity saturates to 1.
var s2eSeverityCeiling = money.New(2, 0) // 200% missed

// SoldTooEarly flags sells that left a materially better exit on the table
// within the following week (spec.md §4.4).
type SoldTooEarly struct {
	MinMissedPct money.Decimal
	MinMissedUSD money.Decimal
}

// NewSoldTooEarly builds the detector with spec.md defaults overridable by
// config (internal/config.DetectorConfig).
func NewSoldTooEarly(minMissedPct, minMissedUSD money.Decimal) *SoldTooEarly {
	return &SoldTooEarly{MinMissedPct: minMissedPct, MinMissedUSD: minMissedUSD}
}

func (d *SoldTooEarly) Name() string  { return "sold_too_early" }
func (d *SoldTooEarly) Version() int  { return 1 }

func (d *SoldTooEarly) ShouldProcess(ev Event) bool {
	a := ev.Action
	return a.Kind == "sell" && a.Mint != "" && a.AmountDec != nil && a.ExecPxUSDDec != nil && a.ExecPxUSDDec.Sign() > 0
}

func (d *SoldTooEarly) Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error) {
	a := ev.Action
	p := *a.ExecPxUSDDec

	rng, ok, err := dctx.Prices.Range(ctx, a.Mint, a.Ts, a.Ts.Add(s2eWindow))
	if err != nil {
		return nil, fmt.Errorf("s2e: range lookup failed: %w", err)
	}
	if !ok {
		return nil, nil
	}

	peak := rng.Max
	if peak.LessThanOrEqual(p) {
		return nil, nil
	}

	missedPct := peak.Sub(p).Div(p)
	missedUSD := a.AmountDec.Mul(peak.Sub(p))

	if missedPct.LessThan(d.MinMissedPct) || missedUSD.LessThan(d.MinMissedUSD) {
		return nil, nil
	}

	severity := scaledSeverity(missedPct, s2eSeverityCeiling)

	explain, err := json.Marshal(map[string]interface{}{
		"detector":    d.Name(),
		"version":     d.Version(),
		"exec_px_usd": p.String(),
		"peak_px_usd": peak.String(),
		"peak_ts":     rng.MaxTs,
		"window":      s2eWindow.String(),
		"source":      rng.Source,
		"confidence":  rng.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("s2e: failed to encode explain doc: %w", err)
	}

	mint := a.Mint
	sig := a.Signature
	slot := a.Slot
	window := s2eWindow.String()

	return &store.Moment{
		ID:           ids.New(),
		Wallet:       a.Wallet,
		Mint:         &mint,
		Kind:         clientkind.MomentSoldTooEarly,
		TEvent:       a.Ts,
		Window:       window,
		PctDec:       &money.Column{Decimal: missedPct},
		MissedUSDDec: &money.Column{Decimal: missedUSD},
		SeverityDec:  money.Column{Decimal: severity},
		Signature:    &sig,
		Slot:         &slot,
		Version:      d.Version(),
		Explain:      string(explain),
	}, nil
}
