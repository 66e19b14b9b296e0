package price

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

func TestBucketize_TruncatesToUTCBoundariesAndTracksOHLC(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 2, 10, 0, time.UTC)
	samples := []store.TokenPrice{
		{Mint: "MINT1", Ts: base, Price: money.Column{Decimal: money.MustParse("1.00")}, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh},
		{Mint: "MINT1", Ts: base.Add(30 * time.Second), Price: money.Column{Decimal: money.MustParse("1.50")}, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh},
		{Mint: "MINT1", Ts: base.Add(45 * time.Second), Price: money.Column{Decimal: money.MustParse("0.90")}, Source: clientkind.SourceObserved, Confidence: clientkind.ConfidenceLow},
	}

	buckets := bucketize("MINT1", samples, clientkind.Bucket1m, time.Minute)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC), b.BucketTs)
	assert.True(t, b.Open.Decimal.Equal(money.MustParse("1.00")))
	assert.True(t, b.High.Decimal.Equal(money.MustParse("1.50")))
	assert.True(t, b.Low.Decimal.Equal(money.MustParse("0.90")))
	assert.True(t, b.Close.Decimal.Equal(money.MustParse("0.90")))
	assert.True(t, b.Volume.Decimal.IsZero())
	assert.Equal(t, clientkind.ConfidenceLow, b.Confidence)
}

func TestBucketize_SeparatesDistinctBuckets(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	samples := []store.TokenPrice{
		{Mint: "MINT1", Ts: base, Price: money.Column{Decimal: money.MustParse("1.00")}, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh},
		{Mint: "MINT1", Ts: base.Add(90 * time.Second), Price: money.Column{Decimal: money.MustParse("2.00")}, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh},
	}

	buckets := bucketize("MINT1", samples, clientkind.Bucket1m, time.Minute)
	require.Len(t, buckets, 2)
}

func TestRefreshMaterializedViews_NoMintsIsANoOp(t *testing.T) {
	p, mock := newMockProvider(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(sqlmock.NewRows(nil))

	err := p.RefreshMaterializedViews(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
