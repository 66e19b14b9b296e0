package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oofstack/oofcore/internal/money"
)

func dec(s string) *money.Decimal {
	d := money.MustParse(s)
	return &d
}

func TestEngine_FIFOAcrossPartialSells(t *testing.T) {
	// S4: Buy 10@$1 at t0; buy 5@$2 at t1; sell 12@$3 at t2.
	e := New(nil, nil)
	s := NewState("w1", "M")
	t0 := time.Now()
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	_, err := e.Apply(context.Background(), s, Action{Kind: "buy", Wallet: "w1", Mint: "M", Ts: t0, AmountDec: dec("10"), ExecPxUSDDec: dec("1")})
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), s, Action{Kind: "buy", Wallet: "w1", Mint: "M", Ts: t1, AmountDec: dec("5"), ExecPxUSDDec: dec("2")})
	require.NoError(t, err)

	result, err := e.Apply(context.Background(), s, Action{Kind: "sell", Wallet: "w1", Mint: "M", Ts: t2, AmountDec: dec("12"), ExecPxUSDDec: dec("3")})
	require.NoError(t, err)

	require.NotNil(t, result.Trade)
	assert.True(t, result.Trade.Qty.Decimal.Equal(money.MustParse("12")))
	assert.True(t, result.Trade.VWAvgExitPx.Decimal.Equal(money.MustParse("3")))
	// realized = (3-1)*10 + (3-2)*2 = 22
	assert.True(t, result.Trade.RealizedPnLUSD.Decimal.Equal(money.MustParse("22")))
	assert.Nil(t, result.ClosedEpisode)

	require.Len(t, s.Lots, 1)
	assert.True(t, s.Lots[0].QtyRemaining.Decimal.Equal(money.MustParse("3")))
	assert.True(t, s.Lots[0].EntryPxUSDDec.Decimal.Equal(money.MustParse("2")))
	require.NotNil(t, s.ActiveEpisode)
	assert.True(t, s.ActiveEpisode.IsActive)
}

func TestEngine_EpisodeCloses(t *testing.T) {
	// S5: continue S4 by selling 3@$4 at t3.
	e := New(nil, nil)
	s := NewState("w1", "M")
	t0 := time.Now()
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	mustApply := func(a Action) Result {
		r, err := e.Apply(context.Background(), s, a)
		require.NoError(t, err)
		return r
	}

	mustApply(Action{Kind: "buy", Ts: t0, Wallet: "w1", Mint: "M", AmountDec: dec("10"), ExecPxUSDDec: dec("1")})
	mustApply(Action{Kind: "buy", Ts: t1, Wallet: "w1", Mint: "M", AmountDec: dec("5"), ExecPxUSDDec: dec("2")})
	mustApply(Action{Kind: "sell", Ts: t2, Wallet: "w1", Mint: "M", AmountDec: dec("12"), ExecPxUSDDec: dec("3")})
	result := mustApply(Action{Kind: "sell", Ts: t3, Wallet: "w1", Mint: "M", AmountDec: dec("3"), ExecPxUSDDec: dec("4")})

	require.NotNil(t, result.Trade)
	// realized = (4-2)*3 = 6
	assert.True(t, result.Trade.RealizedPnLUSD.Decimal.Equal(money.MustParse("6")))

	require.NotNil(t, result.ClosedEpisode)
	ep := result.ClosedEpisode
	// basis = 10*1 + 5*2 = 20
	assert.True(t, ep.BasisUSD.Decimal.Equal(money.MustParse("20")))
	// realized_pnl = 22 + 6 = 28
	assert.True(t, ep.RealizedPnLUSD.Decimal.Equal(money.MustParse("28")))
	require.NotNil(t, ep.ROIPct)
	assert.True(t, ep.ROIPct.Decimal.Equal(money.MustParse("1.4")))
	assert.False(t, ep.IsActive)
	assert.Nil(t, s.ActiveEpisode)
	assert.Empty(t, s.Lots)
}

func TestEngine_SellExceedingExposure_RecordsShortfall(t *testing.T) {
	e := New(nil, nil)
	s := NewState("w1", "M")
	now := time.Now()

	_, err := e.Apply(context.Background(), s, Action{Kind: "buy", Ts: now, Wallet: "w1", Mint: "M", AmountDec: dec("5"), ExecPxUSDDec: dec("1")})
	require.NoError(t, err)

	result, err := e.Apply(context.Background(), s, Action{Kind: "sell", Ts: now.Add(time.Minute), Wallet: "w1", Mint: "M", AmountDec: dec("8"), ExecPxUSDDec: dec("2")})
	require.NoError(t, err)

	require.NotNil(t, result.Trade)
	assert.True(t, result.Trade.Qty.Decimal.Equal(money.MustParse("5")))
	require.NotNil(t, result.ShortfallQty)
	assert.True(t, result.ShortfallQty.Equal(money.MustParse("3")))
	assert.Empty(t, s.Lots)
	require.NotNil(t, result.ClosedEpisode)
}

func TestEngine_BuyAtZeroPrice_IgnoredWithWarning(t *testing.T) {
	e := New(nil, nil)
	s := NewState("w1", "M")

	result, err := e.Apply(context.Background(), s, Action{Kind: "buy", Ts: time.Now(), Wallet: "w1", Mint: "M", AmountDec: dec("5"), ExecPxUSDDec: dec("0")})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, s.Lots)
	assert.Nil(t, s.ActiveEpisode)
}

func TestEngine_NonCustodialTransfer_NoEffect(t *testing.T) {
	e := New(nil, []string{"cex-addr"})
	s := NewState("w1", "M")
	now := time.Now()

	e.Apply(context.Background(), s, Action{Kind: "buy", Ts: now, Wallet: "w1", Mint: "M", AmountDec: dec("5"), ExecPxUSDDec: dec("1")})
	result, err := e.Apply(context.Background(), s, Action{Kind: "transfer", Ts: now.Add(time.Minute), Wallet: "w1", Mint: "M", AmountDec: dec("5"), Counterparty: "some-other-wallet"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Len(t, s.Lots, 1)
}

func TestEngine_CustodialTransfer_RealizesOutflow(t *testing.T) {
	fixedPrice := money.MustParse("1.5")
	lookup := fakePriceLookup{price: fixedPrice, ok: true}
	e := New(lookup, []string{"cex-addr"})
	s := NewState("w1", "M")
	now := time.Now()

	e.Apply(context.Background(), s, Action{Kind: "buy", Ts: now, Wallet: "w1", Mint: "M", AmountDec: dec("5"), ExecPxUSDDec: dec("1")})
	result, err := e.Apply(context.Background(), s, Action{Kind: "transfer", Ts: now.Add(time.Minute), Wallet: "w1", Mint: "M", AmountDec: dec("5"), Counterparty: "cex-addr"})
	require.NoError(t, err)
	require.NotNil(t, result.Trade)
	assert.True(t, result.Trade.VWAvgExitPx.Decimal.Equal(fixedPrice))
	assert.Empty(t, s.Lots)
}

func TestSort_OrdersByTsSlotLogIndexSignature(t *testing.T) {
	t0 := time.Now()
	actions := []Action{
		{ID: "c", Ts: t0, Slot: 1, LogIndex: 2, Signature: "b"},
		{ID: "a", Ts: t0, Slot: 1, LogIndex: 1, Signature: "z"},
		{ID: "b", Ts: t0.Add(-time.Second), Slot: 1, LogIndex: 9},
	}
	Sort(actions)
	assert.Equal(t, "b", actions[0].ID)
	assert.Equal(t, "a", actions[1].ID)
	assert.Equal(t, "c", actions[2].ID)
}

type fakePriceLookup struct {
	price money.Decimal
	ok    bool
}

func (f fakePriceLookup) PriceAt(ctx context.Context, mint string, t time.Time) (money.Decimal, bool, error) {
	return f.price, f.ok, nil
}
