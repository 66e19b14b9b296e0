package worker

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/detect"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/price"
	"github.com/oofstack/oofcore/internal/scheduler"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	prices := price.New(gormDB)
	return &Runner{
		DB:        gormDB,
		Scheduler: scheduler.New(gormDB, time.Minute),
		Prices:    prices,
		Detectors: detect.New(gormDB, prices),
	}, mock
}

func TestRun_UnknownKindReturnsError(t *testing.T) {
	r, _ := newMockRunner(t)

	err := r.Run(context.Background(), &store.Job{Kind: clientkind.JobKind("not_a_kind"), Payload: "{}"})
	require.Error(t, err)
}

func TestRun_GenerateLeaderboardIsANoOp(t *testing.T) {
	r, mock := newMockRunner(t)

	err := r.Run(context.Background(), &store.Job{Kind: clientkind.JobGenerateLeaderboard, Payload: "{}"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_InvalidPayloadReturnsError(t *testing.T) {
	r, _ := newMockRunner(t)

	err := r.Run(context.Background(), &store.Job{Kind: clientkind.JobCompute, Payload: "not json"})
	require.Error(t, err)
}

func TestRunCleanup_DeletesOldJobsAndSnapshots(t *testing.T) {
	r, mock := newMockRunner(t)
	r.CleanupRetentionDays = 30

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `jobs`")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `position_snapshots`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.Run(context.Background(), &store.Job{Kind: clientkind.JobCleanupOldData, Payload: "{}"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeExternal struct {
	quotes map[string]price.ExternalQuote
}

func (f *fakeExternal) FetchPrices(ctx context.Context, mints []string) (map[string]price.ExternalQuote, error) {
	out := make(map[string]price.ExternalQuote, len(mints))
	for _, m := range mints {
		if q, ok := f.quotes[m]; ok {
			out[m] = q
		}
	}
	return out, nil
}

func TestRunRefreshPrices_ExplicitMintsBypassesStaleLookup(t *testing.T) {
	r, mock := newMockRunner(t)
	r.Prices = price.New(r.DB, price.WithExternalClient(&fakeExternal{
		quotes: map[string]price.ExternalQuote{
			"MINT1": {Price: money.MustParse("1.25"), Ts: time.Now()},
		},
	}))
	r.PriceBatchSize = 50

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `token_prices`")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.Run(context.Background(), &store.Job{
		Kind:    clientkind.JobRefreshPrices,
		Payload: `{"mints":["MINT1"]}`,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCalculateExtremes_NoIdleYieldScannerIsANoOp(t *testing.T) {
	r, mock := newMockRunner(t)

	err := r.Run(context.Background(), &store.Job{
		Kind:    clientkind.JobCalculateExtremes,
		Payload: `{"wallet":"walletA"}`,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
