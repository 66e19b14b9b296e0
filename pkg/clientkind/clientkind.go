// Package clientkind holds the small tagged enums shared across the core
// pipeline: action kinds, job kinds/status, and price provenance labels.
package clientkind

// ActionKind classifies a single observable effect within a transaction.
type ActionKind string

const (
	ActionBuy         ActionKind = "buy"
	ActionSell        ActionKind = "sell"
	ActionSwap        ActionKind = "swap"
	ActionTransfer    ActionKind = "transfer"
	ActionSolTransfer ActionKind = "sol_transfer"
	ActionMint        ActionKind = "mint"
	ActionBurn        ActionKind = "burn"
	ActionTx          ActionKind = "tx"
)

// JobKind enumerates the background work the scheduler drives.
type JobKind string

const (
	JobBackfill                JobKind = "backfill"
	JobCompute                 JobKind = "compute"
	JobRefreshPrices           JobKind = "refresh_prices"
	JobRefreshMaterializedView JobKind = "refresh_materialized_views"
	JobCalculateExtremes       JobKind = "calculate_extremes"
	JobCleanupOldData          JobKind = "cleanup_old_data"
	JobGenerateLeaderboard     JobKind = "generate_leaderboard"
)

// JobStatus is the lifecycle state of a Job row.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// PriceSource tags where a TokenPrice sample came from.
type PriceSource string

const (
	SourceExternal PriceSource = "external"
	SourceObserved PriceSource = "observed"
	SourceVWAP     PriceSource = "vwap"
)

// Confidence tags how much a price result should be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MomentKind enumerates the built-in detector outputs.
type MomentKind string

const (
	MomentSoldTooEarly      MomentKind = "S2E"
	MomentBagHolderDrawdown MomentKind = "BHD"
	MomentBadRoute          MomentKind = "BadRoute"
	MomentIdleYield         MomentKind = "IdleYield"
)

// CandleBucket is a supported OHLC aggregation width.
type CandleBucket string

const (
	Bucket1m CandleBucket = "1m"
	Bucket5m CandleBucket = "5m"
	Bucket1h CandleBucket = "1h"
	Bucket1d CandleBucket = "1d"
)
