package detect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// badRouteSeverityCeiling is the worse_pct at which severity saturates to 1.
var badRouteSeverityCeiling = money.MustParse("0.10")

// BadRoute flags swaps executed materially worse than the best available
// price at the minute of execution (spec.md §4.4).
type BadRoute struct {
	MinWorsePct money.Decimal
}

// NewBadRoute builds the detector; minWorsePct default 0.01 per spec.md.
func NewBadRoute(minWorsePct money.Decimal) *BadRoute {
	return &BadRoute{MinWorsePct: minWorsePct}
}

func (d *BadRoute) Name() string { return "bad_route" }
func (d *BadRoute) Version() int { return 1 }

func (d *BadRoute) ShouldProcess(ev Event) bool {
	a := ev.Action
	return a.Kind == "swap" && a.Mint != "" && a.ExecPxUSDDec != nil && a.ExecPxUSDDec.Sign() > 0
}

func (d *BadRoute) Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error) {
	a := ev.Action
	exec := *a.ExecPxUSDDec

	best, ok, err := dctx.Prices.Quote(ctx, a.Mint, a.Ts)
	if err != nil {
		return nil, fmt.Errorf("bad_route: price lookup failed: %w", err)
	}
	if !ok || best.Price.Sign() <= 0 {
		return nil, nil
	}

	worsePct := exec.Sub(best.Price).Div(best.Price)
	if worsePct.LessThan(d.MinWorsePct) {
		return nil, nil
	}

	severity := scaledSeverity(worsePct, badRouteSeverityCeiling)

	explain, err := json.Marshal(map[string]interface{}{
		"detector":    d.Name(),
		"version":     d.Version(),
		"exec_px_usd": exec.String(),
		"best_px_usd": best.Price.String(),
		"best_ts":     best.Ts,
		"source":      best.Source,
		"confidence":  best.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("bad_route: failed to encode explain doc: %w", err)
	}

	mint := a.Mint
	sig := a.Signature
	slot := a.Slot

	return &store.Moment{
		ID:          ids.New(),
		Wallet:      a.Wallet,
		Mint:        &mint,
		Kind:        clientkind.MomentBadRoute,
		TEvent:      a.Ts,
		PctDec:      &money.Column{Decimal: worsePct},
		SeverityDec: money.Column{Decimal: severity},
		Signature:   &sig,
		Slot:        &slot,
		Version:     d.Version(),
		Explain:     string(explain),
	}, nil
}
