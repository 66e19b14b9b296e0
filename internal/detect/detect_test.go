package detect

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/position"
	"github.com/oofstack/oofcore/internal/price"
	"github.com/oofstack/oofcore/internal/store"
)

func newMockFramework(t *testing.T, prices PriceLookup) (*Framework, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return New(gormDB, prices), mock
}

type fakePrices struct {
	rng   price.RangeResult
	rngOK bool
	quote price.Result
	quoteOK bool
}

func (f fakePrices) Quote(ctx context.Context, mint string, t time.Time) (price.Result, bool, error) {
	return f.quote, f.quoteOK, nil
}

func (f fakePrices) Range(ctx context.Context, mint string, t0, t1 time.Time) (price.RangeResult, bool, error) {
	return f.rng, f.rngOK, nil
}

type alwaysFailDetector struct{ calls int }

func (d *alwaysFailDetector) Name() string               { return "always_fail" }
func (d *alwaysFailDetector) Version() int                { return 1 }
func (d *alwaysFailDetector) ShouldProcess(ev Event) bool { return true }
func (d *alwaysFailDetector) Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error) {
	d.calls++
	return nil, errors.New("boom")
}

type alwaysEmitDetector struct{ calls int }

func (d *alwaysEmitDetector) Name() string               { return "always_emit" }
func (d *alwaysEmitDetector) Version() int                { return 1 }
func (d *alwaysEmitDetector) ShouldProcess(ev Event) bool { return true }
func (d *alwaysEmitDetector) Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error) {
	d.calls++
	mint := "M"
	return &store.Moment{
		ID:          "01AAAAAAAAAAAAAAAAAAAAAAAA",
		Wallet:      ev.Action.Wallet,
		Mint:        &mint,
		Kind:        "S2E",
		TEvent:      ev.Action.Ts,
		SeverityDec: money.Column{Decimal: money.MustParse("0.5")},
		Version:     1,
		Explain:     "{}",
	}, nil
}

func TestDispatch_FailingDetectorDoesNotStopOthers(t *testing.T) {
	f, mock := newMockFramework(t, fakePrices{})
	failing := &alwaysFailDetector{}
	emitting := &alwaysEmitDetector{}
	f.Register(failing)
	f.Register(emitting)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `moments`")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "sell", Ts: time.Now()}}
	emitted := f.Dispatch(context.Background(), ev)

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, emitting.calls)
	require.Len(t, emitted, 1)
	assert.Equal(t, int64(1), f.FailureCount("always_fail"))
}

func TestDispatch_PublishesToGlobalAndWalletTopics(t *testing.T) {
	f, mock := newMockFramework(t, fakePrices{})
	f.Register(&alwaysEmitDetector{})

	global := f.SubscribeGlobal(1)
	walletCh := f.SubscribeWallet("w1", 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `moments`")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "sell", Ts: time.Now()}}
	f.Dispatch(context.Background(), ev)

	select {
	case m := <-global:
		assert.Equal(t, "w1", m.Wallet)
	default:
		t.Fatal("expected a moment on the global topic")
	}
	select {
	case m := <-walletCh:
		assert.Equal(t, "w1", m.Wallet)
	default:
		t.Fatal("expected a moment on the wallet topic")
	}
}

func TestSoldTooEarly_EmitsWhenThresholdsCleared(t *testing.T) {
	now := time.Now()
	prices := fakePrices{
		rng:   price.RangeResult{Max: money.MustParse("2.0"), MaxTs: now.Add(time.Hour)},
		rngOK: true,
	}
	d := NewSoldTooEarly(money.MustParse("0.25"), money.MustParse("25"))

	amount := money.MustParse("100")
	px := money.MustParse("1.0")
	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "sell", Ts: now, AmountDec: &amount, ExecPxUSDDec: &px}}

	require.True(t, d.ShouldProcess(ev))
	moment, err := d.Process(context.Background(), ev, &Context{Prices: prices})
	require.NoError(t, err)
	require.NotNil(t, moment)
	// missed_pct = (2-1)/1 = 1.0 >= 0.25; missed_usd = 100*(2-1) = 100 >= 25
	assert.True(t, moment.PctDec.Decimal.Equal(money.MustParse("1")))
	assert.True(t, moment.MissedUSDDec.Decimal.Equal(money.MustParse("100")))
}

func TestSoldTooEarly_NoEmitBelowThreshold(t *testing.T) {
	now := time.Now()
	prices := fakePrices{
		rng:   price.RangeResult{Max: money.MustParse("1.01")},
		rngOK: true,
	}
	d := NewSoldTooEarly(money.MustParse("0.25"), money.MustParse("25"))

	amount := money.MustParse("100")
	px := money.MustParse("1.0")
	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "sell", Ts: now, AmountDec: &amount, ExecPxUSDDec: &px}}

	moment, err := d.Process(context.Background(), ev, &Context{Prices: prices})
	require.NoError(t, err)
	assert.Nil(t, moment)
}

func TestBagHolderDrawdown_EmitsOnSevereDrawdown(t *testing.T) {
	now := time.Now()
	prices := fakePrices{
		rng:   price.RangeResult{Min: money.MustParse("0.5")},
		rngOK: true,
	}
	d := NewBagHolderDrawdown(money.MustParse("-0.30"))

	px := money.MustParse("1.0")
	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "buy", Ts: now, ExecPxUSDDec: &px}}

	moment, err := d.Process(context.Background(), ev, &Context{Prices: prices})
	require.NoError(t, err)
	require.NotNil(t, moment)
	assert.True(t, moment.PctDec.Decimal.Equal(money.MustParse("-0.5")))
}

func TestBadRoute_EmitsOnWorseExecution(t *testing.T) {
	now := time.Now()
	prices := fakePrices{
		quote:   price.Result{Price: money.MustParse("1.0")},
		quoteOK: true,
	}
	d := NewBadRoute(money.MustParse("0.01"))

	px := money.MustParse("1.05")
	ev := Event{Action: position.Action{Wallet: "w1", Mint: "M", Kind: "swap", Ts: now, ExecPxUSDDec: &px}}

	moment, err := d.Process(context.Background(), ev, &Context{Prices: prices})
	require.NoError(t, err)
	require.NotNil(t, moment)
	assert.True(t, moment.PctDec.Decimal.Equal(money.MustParse("0.05")))
}
