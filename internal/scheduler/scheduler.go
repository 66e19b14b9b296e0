// Package scheduler implements the durable, at-least-once job queue
// described in spec.md §4.1: enqueue, lease_next (via FOR UPDATE SKIP
// LOCKED), complete, fail with bounded retries, and a reaper sweep for
// crashed workers.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// Scheduler is the durable queue over the relational store.
type Scheduler struct {
	db             *gorm.DB
	defaultBackoff time.Duration
}

// New builds a Scheduler backed by db, with defaultBackoff used by Fail when
// a job still has attempts remaining (spec.md §4.1: "a fixed grace (e.g., 5
// minutes) in v1").
func New(db *gorm.DB, defaultBackoff time.Duration) *Scheduler {
	if defaultBackoff <= 0 {
		defaultBackoff = 5 * time.Minute
	}
	return &Scheduler{db: db, defaultBackoff: defaultBackoff}
}

// Enqueue inserts a new queued job and returns its id.
func (s *Scheduler) Enqueue(ctx context.Context, kind clientkind.JobKind, payload interface{}, runAfter time.Time, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("scheduler: failed to marshal payload for %s: %w", kind, err)
	}

	job := store.Job{
		ID:          ids.New(),
		Kind:        kind,
		Payload:     string(payloadJSON),
		Status:      clientkind.JobQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		RunAfter:    runAfter,
		CreatedAt:   time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", fmt.Errorf("scheduler: failed to enqueue %s job: %w", kind, err)
	}
	return job.ID, nil
}

// ErrNoJobAvailable is returned by LeaseNext when no eligible job exists.
var ErrNoJobAvailable = errors.New("scheduler: no job available")

// LeaseNext atomically selects the earliest eligible job by
// (run_after, created_at), leases it to workerID, and returns it. Concurrent
// leasers never observe the same row (MySQL's SELECT ... FOR UPDATE SKIP
// LOCKED skips rows already locked by another transaction).
func (s *Scheduler) LeaseNext(ctx context.Context, workerID string) (*store.Job, error) {
	var leased store.Job
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job store.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_after <= ? AND attempts < max_attempts", clientkind.JobQueued, now).
			Order("run_after asc, created_at asc").
			Limit(1).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoJobAvailable
		}
		if err != nil {
			return fmt.Errorf("scheduler: failed to select next job: %w", err)
		}

		job.Status = clientkind.JobRunning
		job.Attempts++
		job.LockedBy = &workerID
		lockedAt := now
		job.LockedAt = &lockedAt

		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("scheduler: failed to lease job %s: %w", job.ID, err)
		}
		leased = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoJobAvailable) {
			return nil, ErrNoJobAvailable
		}
		return nil, err
	}
	return &leased, nil
}

// Complete marks a job done and releases its lock.
func (s *Scheduler) Complete(ctx context.Context, jobID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&store.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       clientkind.JobDone,
			"locked_by":    nil,
			"locked_at":    nil,
			"completed_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("scheduler: failed to complete job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scheduler: job %s not found", jobID)
	}
	return nil
}

// Fail records the error on a job. If attempts >= max_attempts it becomes
// terminal (failed); otherwise it returns to queued with
// run_after = now + backoff (spec.md §4.1).
func (s *Scheduler) Fail(ctx context.Context, jobID string, cause error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job store.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("scheduler: failed to load job %s: %w", jobID, err)
		}

		updates := map[string]interface{}{
			"error":     cause.Error(),
			"locked_by": nil,
			"locked_at": nil,
		}
		if job.Attempts >= job.MaxAttempts {
			updates["status"] = clientkind.JobFailed
		} else {
			updates["status"] = clientkind.JobQueued
			updates["run_after"] = time.Now().Add(s.defaultBackoff)
		}

		if err := tx.Model(&store.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("scheduler: failed to record failure for job %s: %w", jobID, err)
		}
		return nil
	})
}

// Reap returns jobs stuck in `running` with a stale locked_at (crashed
// worker) back to `queued`, giving back the attempt LeaseNext took — a crash
// is not counted as a failed attempt (spec.md §4.1).
func (s *Scheduler) Reap(ctx context.Context, leaseTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-leaseTimeout)
	res := s.db.WithContext(ctx).Model(&store.Job{}).
		Where("status = ? AND locked_at < ?", clientkind.JobRunning, cutoff).
		Updates(map[string]interface{}{
			"status":    clientkind.JobQueued,
			"attempts":  gorm.Expr("attempts - 1"),
			"locked_by": nil,
			"locked_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("scheduler: failed to reap stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
