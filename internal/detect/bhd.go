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

const bhdWindow = 7 * 24 * time.Hour

// BagHolderDrawdown flags buys that were followed by a severe drawdown
// within the next week (spec.md §4.4).
type BagHolderDrawdown struct {
	MaxDrawdown money.Decimal // non-positive threshold, e.g. -0.30
}

// NewBagHolderDrawdown builds the detector; maxDrawdown must be ≤ 0.
func NewBagHolderDrawdown(maxDrawdown money.Decimal) *BagHolderDrawdown {
	return &BagHolderDrawdown{MaxDrawdown: maxDrawdown}
}

func (d *BagHolderDrawdown) Name() string { return "bag_holder_drawdown" }
func (d *BagHolderDrawdown) Version() int { return 1 }

func (d *BagHolderDrawdown) ShouldProcess(ev Event) bool {
	a := ev.Action
	return a.Kind == "buy" && a.Mint != "" && a.ExecPxUSDDec != nil && a.ExecPxUSDDec.Sign() > 0
}

func (d *BagHolderDrawdown) Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error) {
	a := ev.Action
	p := *a.ExecPxUSDDec

	rng, ok, err := dctx.Prices.Range(ctx, a.Mint, a.Ts, a.Ts.Add(bhdWindow))
	if err != nil {
		return nil, fmt.Errorf("bhd: range lookup failed: %w", err)
	}
	if !ok {
		return nil, nil
	}

	trough := rng.Min
	drawdownPct := trough.Sub(p).Div(p) // non-positive

	if drawdownPct.GreaterThan(d.MaxDrawdown) {
		return nil, nil
	}

	severity := scaledSeverity(drawdownPct.Abs(), money.New(1, 0))

	explain, err := json.Marshal(map[string]interface{}{
		"detector":      d.Name(),
		"version":       d.Version(),
		"entry_px_usd":  p.String(),
		"trough_px_usd": trough.String(),
		"trough_ts":     rng.MinTs,
		"window":        bhdWindow.String(),
		"source":        rng.Source,
		"confidence":    rng.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("bhd: failed to encode explain doc: %w", err)
	}

	mint := a.Mint
	sig := a.Signature
	slot := a.Slot
	window := bhdWindow.String()

	return &store.Moment{
		ID:          ids.New(),
		Wallet:      a.Wallet,
		Mint:        &mint,
		Kind:        clientkind.MomentBagHolderDrawdown,
		TEvent:      a.Ts,
		Window:      window,
		PctDec:      &money.Column{Decimal: drawdownPct},
		SeverityDec: money.Column{Decimal: severity},
		Signature:   &sig,
		Slot:        &slot,
		Version:     d.Version(),
		Explain:     string(explain),
	}, nil
}
