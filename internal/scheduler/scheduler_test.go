package scheduler

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

	"github.com/oofstack/oofcore/pkg/clientkind"
)

func newMockScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return New(gormDB, time.Minute), mock
}

func TestEnqueue_InsertsQueuedJob(t *testing.T) {
	s, mock := newMockScheduler(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `jobs`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := s.Enqueue(context.Background(), clientkind.JobBackfill, map[string]string{"wallet": "w1"}, time.Now(), 5)
	require.NoError(t, err)
	assert.Len(t, id, 26)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseNext_NoRowsReturnsErrNoJobAvailable(t *testing.T) {
	s, mock := newMockScheduler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectRollback()

	_, err := s.LeaseNext(context.Background(), "worker-1")
	assert.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestLeaseNext_LocksAndUpdatesRow(t *testing.T) {
	s, mock := newMockScheduler(t)

	now := time.Now()
	cols := []string{"id", "kind", "payload", "status", "attempts", "max_attempts", "run_after", "locked_by", "locked_at", "error", "created_at", "completed_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"01AAAAAAAAAAAAAAAAAAAAAAAA", "compute", "{}", "queued", 0, 5, now, nil, nil, "", now, nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `jobs`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := s.LeaseNext(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, clientkind.JobRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "worker-1", *job.LockedBy)
}

func TestFail_BelowMaxAttempts_RequeuesWithBackoff(t *testing.T) {
	s, mock := newMockScheduler(t)

	now := time.Now()
	cols := []string{"id", "kind", "payload", "status", "attempts", "max_attempts", "run_after", "locked_by", "locked_at", "error", "created_at", "completed_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"01AAAAAAAAAAAAAAAAAAAAAAAA", "compute", "{}", "running", 1, 5, now, "worker-1", now, "", now, nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `jobs`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Fail(context.Background(), "01AAAAAAAAAAAAAAAAAAAAAAAA", errors.New("boom"))
	require.NoError(t, err)
}

func TestReap_ReturnsStaleRunningJobsToQueued(t *testing.T) {
	s, mock := newMockScheduler(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `jobs`")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := s.Reap(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
