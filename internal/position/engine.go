package position

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
)

// PriceLookup is the read-side dependency the engine needs for CEX-transfer
// realization and zero-price sells (spec.md §4.2). Satisfied by
// internal/price.Provider.
type PriceLookup interface {
	PriceAt(ctx context.Context, mint string, t time.Time) (money.Decimal, bool, error)
}

// Result is what applying one Action produced, used both to persist state
// and to feed the detector framework's per-event context.
type Result struct {
	Trade          *store.RealizedTrade
	ClosedEpisode  *store.Episode
	OpenedEpisode  bool
	ShortfallQty   *money.Decimal // set when a sell exceeded available exposure
	Skipped        bool
	SkipReason     string
}

// Engine applies ordered actions to per-(wallet, mint) state, strictly
// single-threaded per key (spec.md §4.2 "Ordering contract").
type Engine struct {
	Prices             PriceLookup
	CustodialAddresses map[string]bool
}

// New builds an Engine. custodial is the curated list of known custodial
// addresses used to classify transfers as realized outflows (spec.md §9
// open question — see DESIGN.md for the curated-list decision).
func New(prices PriceLookup, custodial []string) *Engine {
	set := make(map[string]bool, len(custodial))
	for _, addr := range custodial {
		set[addr] = true
	}
	return &Engine{Prices: prices, CustodialAddresses: set}
}

// Apply processes a single action against state, mutating it in place and
// returning what happened. Actions must already be in the canonical
// (ts, slot, log_index, signature) order (DESIGN.md tie-break decision);
// Apply does not itself sort or deduplicate.
func (e *Engine) Apply(ctx context.Context, s *State, a Action) (Result, error) {
	switch a.Kind {
	case "buy":
		return e.applyBuy(s, a)
	case "sell":
		return e.applySell(ctx, s, a)
	case "transfer", "sol_transfer":
		return e.applyTransfer(ctx, s, a)
	default:
		// swap, mint, burn, tx: no cost-basis effect in this engine (spec.md
		// §4.2 only documents buy/sell/outflow/transfer handling; swap is
		// BadRoute's detector-only concern, not the position engine's).
		return Result{Skipped: true, SkipReason: "no position effect for kind " + a.Kind}, nil
	}
}

func (e *Engine) applyBuy(s *State, a Action) (Result, error) {
	if a.AmountDec == nil || a.ExecPxUSDDec == nil || a.ExecPxUSDDec.Sign() <= 0 {
		log.Printf("position: ignoring buy with invalid price: wallet=%s mint=%s sig=%s", a.Wallet, a.Mint, a.Signature)
		return Result{Skipped: true, SkipReason: "buy at non-positive price"}, nil
	}

	opened := false
	if s.Exposure().Sign() == 0 {
		s.ActiveEpisode = &store.Episode{
			EpisodeID: ids.New(),
			Wallet:    s.Wallet,
			Mint:      s.Mint,
			StartTs:   a.Ts,
			BasisUSD:  money.Column{Decimal: money.Zero},
			IsActive:  true,
		}
		s.EpisodeRealizedTotal = money.Zero
		opened = true
	}

	qty := *a.AmountDec
	px := *a.ExecPxUSDDec

	lot := store.Lot{
		LotID:         ids.New(),
		Wallet:        s.Wallet,
		Mint:          s.Mint,
		EpisodeID:     s.ActiveEpisode.EpisodeID,
		EntryTs:       a.Ts,
		QtyInitial:    money.Column{Decimal: qty},
		QtyRemaining:  money.Column{Decimal: qty},
		EntryPxUSDDec: money.Column{Decimal: px},
	}
	s.Lots = append(s.Lots, lot)
	s.ActiveEpisode.BasisUSD.Decimal = s.ActiveEpisode.BasisUSD.Decimal.Add(qty.Mul(px))

	s.markProcessed(a)
	return Result{OpenedEpisode: opened}, nil
}

// applySell consumes the oldest lots first (FIFO) until the sell quantity is
// exhausted or lots run out (spec.md §4.2, invariant 3: FIFO monotonicity).
func (e *Engine) applySell(ctx context.Context, s *State, a Action) (Result, error) {
	px, ok, err := e.resolveSellPrice(ctx, a)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// Zero price and no price available anywhere: cannot establish
		// realized PnL; skip with a warning rather than guessing.
		log.Printf("position: skipping sell with no resolvable price: wallet=%s mint=%s sig=%s", a.Wallet, a.Mint, a.Signature)
		return Result{Skipped: true, SkipReason: "sell at zero price, no price available"}, nil
	}

	if a.AmountDec == nil || a.AmountDec.Sign() <= 0 {
		return Result{Skipped: true, SkipReason: "sell with non-positive amount"}, nil
	}

	remaining := *a.AmountDec
	realized := money.Zero
	soldQty := money.Zero

	for remaining.Sign() > 0 && len(s.Lots) > 0 {
		lot := &s.Lots[0]
		take := remaining
		if lot.QtyRemaining.Decimal.LessThan(take) {
			take = lot.QtyRemaining.Decimal
		}

		diff := px.Sub(lot.EntryPxUSDDec.Decimal)
		realized = realized.Add(diff.Mul(take))
		soldQty = soldQty.Add(take)

		lot.QtyRemaining.Decimal = lot.QtyRemaining.Decimal.Sub(take)
		remaining = remaining.Sub(take)

		if lot.QtyRemaining.Decimal.Sign() == 0 {
			s.Lots = s.Lots[1:]
		}
	}

	var result Result
	if remaining.Sign() > 0 {
		shortfall := remaining
		result.ShortfallQty = &shortfall
		log.Printf("position: sell exceeded exposure by %s: wallet=%s mint=%s sig=%s", shortfall.String(), s.Wallet, s.Mint, a.Signature)
	}

	if soldQty.Sign() > 0 {
		if s.ActiveEpisode == nil {
			return Result{}, fmt.Errorf("position: invariant violation: sell consumed lots with no active episode, wallet=%s mint=%s", s.Wallet, s.Mint)
		}
		s.EpisodeRealizedTotal = s.EpisodeRealizedTotal.Add(realized)

		trade := &store.RealizedTrade{
			ExitID:         ids.New(),
			Wallet:         s.Wallet,
			Mint:           s.Mint,
			EpisodeID:      s.ActiveEpisode.EpisodeID,
			Ts:             a.Ts,
			Qty:            money.Column{Decimal: soldQty},
			VWAvgExitPx:    money.Column{Decimal: px},
			RealizedPnLUSD: money.Column{Decimal: realized},
			Signature:      a.Signature,
		}
		result.Trade = trade

		if s.Exposure().Sign() == 0 {
			s.ActiveEpisode.EndTs = &a.Ts
			s.ActiveEpisode.RealizedPnLUSD = money.Column{Decimal: s.EpisodeRealizedTotal}
			if s.ActiveEpisode.BasisUSD.Decimal.Sign() > 0 {
				roi := s.EpisodeRealizedTotal.Div(s.ActiveEpisode.BasisUSD.Decimal)
				s.ActiveEpisode.ROIPct = &money.Column{Decimal: roi}
			}
			s.ActiveEpisode.IsActive = false
			result.ClosedEpisode = s.ActiveEpisode
			s.ActiveEpisode = nil
		}
	}

	s.markProcessed(a)
	return result, nil
}

// resolveSellPrice returns the action's own exec price, unless it is
// zero/missing, in which case it falls back to the price provider (spec.md
// §4.2: "a sell at price zero is treated as an out-of-band transfer ... if a
// price is not available").
func (e *Engine) resolveSellPrice(ctx context.Context, a Action) (money.Decimal, bool, error) {
	if a.ExecPxUSDDec != nil && a.ExecPxUSDDec.Sign() > 0 {
		return *a.ExecPxUSDDec, true, nil
	}
	if e.Prices == nil {
		return money.Zero, false, nil
	}
	px, ok, err := e.Prices.PriceAt(ctx, a.Mint, a.Ts)
	if err != nil {
		return money.Zero, false, fmt.Errorf("position: price lookup failed for zero-price sell: %w", err)
	}
	return px, ok, nil
}

// applyTransfer realizes an outflow at the best available price when the
// counterparty is a known custodial address; otherwise state is unchanged
// (spec.md §4.2).
func (e *Engine) applyTransfer(ctx context.Context, s *State, a Action) (Result, error) {
	if !e.CustodialAddresses[a.Counterparty] {
		return Result{Skipped: true, SkipReason: "non-custodial transfer, no cost-basis effect"}, nil
	}
	if a.AmountDec == nil || a.AmountDec.Sign() <= 0 {
		return Result{Skipped: true, SkipReason: "transfer with non-positive amount"}, nil
	}

	px, ok, err := e.resolveSellPrice(ctx, Action{ExecPxUSDDec: nil, Mint: a.Mint, Ts: a.Ts})
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Printf("position: custodial transfer has no resolvable price, leaving state unchanged: wallet=%s mint=%s sig=%s", a.Wallet, a.Mint, a.Signature)
		return Result{Skipped: true, SkipReason: "custodial transfer, no price available"}, nil
	}

	sellAction := a
	sellAction.ExecPxUSDDec = &px
	return e.applySell(ctx, s, sellAction)
}

func (s *State) markProcessed(a Action) {
	s.LastTs = a.Ts
	s.LastLogIndex = a.LogIndex
	s.EventsSinceSnapshot++
}
