// Package worker implements the job handlers the scheduler drives: the
// seven kinds enumerated in pkg/clientkind.JobKind, grounded on the
// original implementation's worker crate (original_source/Backend/crates/
// workers/src/main.rs and jobs/backfill_wallet.rs) and wired into this
// codebase's own scheduler/ingest/position/price/detect packages.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/detect"
	"github.com/oofstack/oofcore/internal/ingest"
	"github.com/oofstack/oofcore/internal/metrics"
	"github.com/oofstack/oofcore/internal/position"
	"github.com/oofstack/oofcore/internal/price"
	"github.com/oofstack/oofcore/internal/scheduler"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// NotificationSource fetches a page of a wallet's transaction history from
// the chain, the out-of-scope external collaborator spec.md §1 names
// ("indexing/RPC access") — the Go analogue of the Rust implementation's
// Solana RPC client in jobs/backfill_wallet.rs. Swappable in tests.
type NotificationSource interface {
	FetchWalletHistory(ctx context.Context, wallet string, cursor *string, pageSize int) (notifications []ingest.Notification, nextCursor *string, hasMore bool, err error)
}

// BackfillPayload is the backfill job's payload.
type BackfillPayload struct {
	Wallet string `json:"wallet"`
}

// ComputePayload is the compute job's payload.
type ComputePayload struct {
	Wallet string `json:"wallet"`
}

// RefreshPricesPayload is the refresh_prices job's payload. Mints is
// optional: an empty list means "let StaleMints decide" (original
// implementation's get_mints_needing_updates fallback).
type RefreshPricesPayload struct {
	Mints []string `json:"mints,omitempty"`
}

// CalculateExtremesPayload is the calculate_extremes job's payload.
type CalculateExtremesPayload struct {
	Wallet string `json:"wallet"`
}

// Runner dispatches leased jobs to their handlers and bundles every
// collaborator a handler might need.
type Runner struct {
	DB            *gorm.DB
	Scheduler     *scheduler.Scheduler
	Ingest        *ingest.Adapter
	Engine        *position.Engine
	Prices        *price.Provider
	Detectors     *detect.Framework
	IdleYield     *detect.IdleYieldScanner
	Notifications NotificationSource
	Metrics       *metrics.Collectors

	BackfillPageSize         int
	SnapshotEveryEvents      int
	PriceActiveWindow        time.Duration
	PriceRefreshStale        time.Duration
	PriceBatchSize           int
	MaterializedViewLookback time.Duration
	CleanupRetentionDays     int
}

// Run executes the handler for job.Kind. The caller (cmd/worker's poll
// loop) is responsible for calling Scheduler.Complete/Fail on the result.
func (r *Runner) Run(ctx context.Context, job *store.Job) error {
	switch job.Kind {
	case clientkind.JobBackfill:
		var p BackfillPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("worker: invalid backfill payload: %w", err)
		}
		return r.runBackfill(ctx, p.Wallet)

	case clientkind.JobCompute:
		var p ComputePayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("worker: invalid compute payload: %w", err)
		}
		return r.runCompute(ctx, p.Wallet)

	case clientkind.JobRefreshPrices:
		var p RefreshPricesPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("worker: invalid refresh_prices payload: %w", err)
		}
		return r.runRefreshPrices(ctx, p.Mints)

	case clientkind.JobRefreshMaterializedView:
		lookback := r.MaterializedViewLookback
		if lookback <= 0 {
			lookback = 7 * 24 * time.Hour
		}
		return r.Prices.RefreshMaterializedViews(ctx, lookback)

	case clientkind.JobCalculateExtremes:
		var p CalculateExtremesPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("worker: invalid calculate_extremes payload: %w", err)
		}
		return r.runCalculateExtremes(ctx, p.Wallet)

	case clientkind.JobCleanupOldData:
		return r.runCleanup(ctx)

	case clientkind.JobGenerateLeaderboard:
		// A leaderboard ranking over moments is genuinely unimplemented in
		// the original system too (main.rs's job_generate_leaderboard is a
		// stub); kept as a no-op here rather than invented from scratch.
		log.Printf("worker: generate_leaderboard is a no-op")
		return nil

	default:
		return fmt.Errorf("worker: unknown job kind %q", job.Kind)
	}
}
