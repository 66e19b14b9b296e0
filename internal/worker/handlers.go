package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/detect"
	"github.com/oofstack/oofcore/internal/position"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// runBackfill pages through a wallet's chain history via Notifications,
// ingests each page, advances the wallet's cursor, and on completion
// enqueues a compute job for the same wallet (spec.md §4.1: "A backfill
// completing SHOULD enqueue a compute for the same wallet").
func (r *Runner) runBackfill(ctx context.Context, wallet string) error {
	if r.Notifications == nil {
		return fmt.Errorf("worker: backfill requires a NotificationSource, none configured")
	}

	cursor, err := r.loadCursor(ctx, wallet)
	if err != nil {
		return err
	}

	pageSize := r.BackfillPageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	from := cursor.LastCursorSig
	windowStart := time.Now()
	var lastSig *string

	for {
		notifications, next, hasMore, err := r.Notifications.FetchWalletHistory(ctx, wallet, from, pageSize)
		if err != nil {
			return fmt.Errorf("worker: backfill: failed to fetch history for %s: %w", wallet, err)
		}
		if len(notifications) > 0 {
			if _, _, err := r.Ingest.Ingest(ctx, notifications); err != nil {
				return fmt.Errorf("worker: backfill: ingest failed for %s: %w", wallet, err)
			}
			lastSig = &notifications[len(notifications)-1].Signature
		}
		if !hasMore {
			break
		}
		from = next
	}

	if cursor.FromTs.IsZero() {
		cursor.FromTs = windowStart
	}
	cursor.ToTs = time.Now()
	if lastSig != nil {
		cursor.LastCursorSig = lastSig
	}
	if err := r.DB.WithContext(ctx).Save(cursor).Error; err != nil {
		return fmt.Errorf("worker: backfill: failed to save cursor for %s: %w", wallet, err)
	}

	if _, err := r.Scheduler.Enqueue(ctx, clientkind.JobCompute, ComputePayload{Wallet: wallet}, time.Now(), 5); err != nil {
		return fmt.Errorf("worker: backfill: failed to enqueue compute for %s: %w", wallet, err)
	}
	return nil
}

func (r *Runner) loadCursor(ctx context.Context, wallet string) (*store.WalletCursor, error) {
	var cursor store.WalletCursor
	err := r.DB.WithContext(ctx).Where("wallet = ?", wallet).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return &store.WalletCursor{Wallet: wallet}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("worker: failed to load cursor for %s: %w", wallet, err)
	}
	return &cursor, nil
}

// runCompute replays every ingested action for wallet through the position
// engine, one mint at a time, dispatching each result to the detector
// framework and recording the trade's own price as an observed sample. On
// completion it enqueues calculate_extremes for the wallet (spec.md §4.1:
// "A compute completing SHOULD enqueue calculate_extremes for each touched
// wallet").
func (r *Runner) runCompute(ctx context.Context, wallet string) error {
	var rows []store.Action
	if err := r.DB.WithContext(ctx).Where("wallet = ?", wallet).Order("ts asc").Find(&rows).Error; err != nil {
		return fmt.Errorf("worker: compute: failed to load actions for %s: %w", wallet, err)
	}

	byMint := make(map[string][]position.Action)
	for _, a := range rows {
		if a.Mint == nil || *a.Mint == "" {
			continue
		}
		byMint[*a.Mint] = append(byMint[*a.Mint], toEngineAction(a))
	}

	for mint, actions := range byMint {
		onResult := func(ctx context.Context, action position.Action, state *position.State, result position.Result) error {
			if action.Mint != "" && action.ExecPxUSDDec != nil {
				if err := r.Prices.RecordObserved(ctx, action.Mint, action.Ts, *action.ExecPxUSDDec); err != nil {
					log.Printf("worker: compute: failed to record observed price for %s/%s: %v", wallet, action.Mint, err)
				}
			}
			r.Detectors.Dispatch(ctx, detect.Event{Action: action, State: state, Result: result})
			return nil
		}
		if err := r.Engine.Run(ctx, r.DB, wallet, mint, actions, r.SnapshotEveryEvents, onResult); err != nil {
			return fmt.Errorf("worker: compute: engine run failed for %s/%s: %w", wallet, mint, err)
		}
	}

	if _, err := r.Scheduler.Enqueue(ctx, clientkind.JobCalculateExtremes, CalculateExtremesPayload{Wallet: wallet}, time.Now(), 5); err != nil {
		return fmt.Errorf("worker: compute: failed to enqueue calculate_extremes for %s: %w", wallet, err)
	}
	return nil
}

func toEngineAction(a store.Action) position.Action {
	out := position.Action{
		ID:        a.ID,
		Signature: a.Signature,
		LogIndex:  a.LogIndex,
		Slot:      a.Slot,
		Ts:        a.Ts,
		Kind:      string(a.Kind),
		Wallet:    a.Wallet,
	}
	if a.Mint != nil {
		out.Mint = *a.Mint
	}
	if a.AmountDec != nil {
		amt := a.AmountDec.Decimal
		out.AmountDec = &amt
	}
	if a.ExecPxUSDDec != nil {
		px := a.ExecPxUSDDec.Decimal
		out.ExecPxUSDDec = &px
	}
	return out
}

// runRefreshPrices resolves the mints to refresh (explicit payload, or
// StaleMints when the payload is empty — the original implementation's
// get_mints_needing_updates fallback), fetches them from the external API
// in bounded batches, and pauses briefly between batches (spec.md §5:
// "polite spacing" when calling a rate-limited external API).
func (r *Runner) runRefreshPrices(ctx context.Context, mints []string) error {
	if len(mints) == 0 {
		active := r.PriceActiveWindow
		if active <= 0 {
			active = 24 * time.Hour
		}
		stale := r.PriceRefreshStale
		if stale <= 0 {
			stale = 30 * time.Minute
		}
		var err error
		mints, err = r.Prices.StaleMints(ctx, active, stale)
		if err != nil {
			return fmt.Errorf("worker: refresh_prices: failed to resolve stale mints: %w", err)
		}
	}
	if len(mints) == 0 {
		return nil
	}

	batchSize := r.PriceBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for start := 0; start < len(mints); start += batchSize {
		end := start + batchSize
		if end > len(mints) {
			end = len(mints)
		}
		if _, err := r.Prices.RefreshExternal(ctx, mints[start:end]); err != nil {
			return fmt.Errorf("worker: refresh_prices: batch failed: %w", err)
		}
		if end < len(mints) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return nil
}

// runCalculateExtremes runs the periodic IdleYield scan for wallet through
// the detector framework's persist/publish path (spec.md §4.4: IdleYield is
// triggered by this job, not by per-event Dispatch).
func (r *Runner) runCalculateExtremes(ctx context.Context, wallet string) error {
	if r.IdleYield == nil {
		return nil
	}
	r.Detectors.RunIdleYield(ctx, r.IdleYield, wallet)
	return nil
}

// runCleanup deletes terminal job rows and position snapshots older than
// the configured retention window, mirroring the original implementation's
// job_cleanup_old_data sweep over job_queue and position_snapshots.
func (r *Runner) runCleanup(ctx context.Context) error {
	days := r.CleanupRetentionDays
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	if err := r.DB.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []clientkind.JobStatus{clientkind.JobDone, clientkind.JobFailed}, cutoff).
		Delete(&store.Job{}).Error; err != nil {
		return fmt.Errorf("worker: cleanup: failed to delete old jobs: %w", err)
	}

	if err := r.DB.WithContext(ctx).
		Where("snapshot_ts < ?", cutoff).
		Delete(&store.PositionSnapshot{}).Error; err != nil {
		return fmt.Errorf("worker: cleanup: failed to delete old snapshots: %w", err)
	}
	return nil
}
