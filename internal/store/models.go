// Package store holds the gorm models for every entity in spec.md §3 and the
// MySQL bootstrap, grounded on the teacher's internal/db/transaction_recorder.go
// (gorm.Open, AutoMigrate, TableName()).
package store

import (
	"time"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// TxRaw is one row per on-chain signature; storage_key references the
// compressed raw payload held in object storage. Immutable after insert
// except Status.
type TxRaw struct {
	Signature  string `gorm:"primaryKey;size:128"`
	Slot       int64  `gorm:"not null;index"`
	BlockTime  time.Time `gorm:"not null;index"`
	Status     string `gorm:"not null;size:32"`
	StorageKey string `gorm:"not null;size:256"`
	RawSize    int64  `gorm:"not null"`
}

func (TxRaw) TableName() string { return "tx_raw" }

// Participant is a many-to-many edge used to find all transactions touching
// a wallet without scanning Action.
type Participant struct {
	Signature string `gorm:"primaryKey;size:128"`
	Wallet    string `gorm:"primaryKey;size:64;index:idx_participant_wallet"`
}

func (Participant) TableName() string { return "participants" }

// Action is a single observable effect within a transaction.
// (signature, log_index) is unique; the rest is immutable after insert.
type Action struct {
	ID            string    `gorm:"primaryKey;size:26"`
	Signature     string    `gorm:"not null;size:128;uniqueIndex:idx_action_sig_logidx"`
	LogIndex      int       `gorm:"not null;uniqueIndex:idx_action_sig_logidx"`
	Slot          int64     `gorm:"not null"`
	Ts            time.Time `gorm:"not null;index:idx_action_wallet_mint_ts"`
	ProgramID     string    `gorm:"size:128"`
	Kind          clientkind.ActionKind `gorm:"not null;size:16"`
	Wallet        string    `gorm:"size:64;index:idx_action_wallet_mint_ts"`
	Mint          *string   `gorm:"size:64;index:idx_action_wallet_mint_ts"`
	AmountDec     *money.Column `gorm:"type:varchar(78)"`
	ExecPxUSDDec  *money.Column `gorm:"type:varchar(78)"`
	Route         string    `gorm:"type:text"`
	Flags         string    `gorm:"type:text"` // JSON-shaped metadata, e.g. shortfall_qty
}

func (Action) TableName() string { return "actions" }

// Lot is a single buy's remaining quantity and per-unit cost; the unit of
// FIFO cost-basis accounting. Deleted when QtyRemaining reaches zero.
type Lot struct {
	LotID         string    `gorm:"primaryKey;size:26"`
	Wallet        string    `gorm:"not null;size:64;index:idx_lot_wallet_mint"`
	Mint          string    `gorm:"not null;size:64;index:idx_lot_wallet_mint"`
	EpisodeID     string    `gorm:"not null;size:26;index"`
	EntryTs       time.Time `gorm:"not null;index"`
	QtyInitial    money.Column `gorm:"type:varchar(78);not null"`
	QtyRemaining  money.Column `gorm:"type:varchar(78);not null"`
	EntryPxUSDDec money.Column `gorm:"type:varchar(78);not null"`
}

func (Lot) TableName() string { return "lots" }

// Episode is the interval during which a wallet has nonzero exposure to a
// single mint. Exactly one episode per (wallet, mint) has IsActive = true.
type Episode struct {
	EpisodeID      string     `gorm:"primaryKey;size:26"`
	Wallet         string     `gorm:"not null;size:64;uniqueIndex:idx_episode_active,priority:1"`
	Mint           string     `gorm:"not null;size:64;uniqueIndex:idx_episode_active,priority:2"`
	StartTs        time.Time  `gorm:"not null"`
	EndTs          *time.Time
	BasisUSD       money.Column  `gorm:"type:varchar(78);not null"`
	RealizedPnLUSD money.Column  `gorm:"type:varchar(78);not null"`
	ROIPct         *money.Column `gorm:"type:varchar(78)"`
	IsActive       bool       `gorm:"not null;uniqueIndex:idx_episode_active,priority:3"`
}

func (Episode) TableName() string { return "episodes" }

// RealizedTrade records a sell that consumed one or more lots. Append-only,
// emitted once per sell/outflow.
type RealizedTrade struct {
	ExitID         string    `gorm:"primaryKey;size:26"`
	Wallet         string    `gorm:"not null;size:64;index"`
	Mint           string    `gorm:"not null;size:64;index"`
	EpisodeID      string    `gorm:"not null;size:26;index"`
	Ts             time.Time `gorm:"not null"`
	Qty            money.Column `gorm:"type:varchar(78);not null"`
	VWAvgExitPx    money.Column `gorm:"type:varchar(78);not null"`
	RealizedPnLUSD money.Column `gorm:"type:varchar(78);not null"`
	Signature      string    `gorm:"size:128"`
}

func (RealizedTrade) TableName() string { return "realized_trades" }

// PositionSnapshot is a periodic serialization of engine state for a
// (wallet, mint), written every N events (spec.md §4.2).
type PositionSnapshot struct {
	Wallet       string    `gorm:"primaryKey;size:64"`
	Mint         string    `gorm:"primaryKey;size:64"`
	SnapshotTs   time.Time `gorm:"primaryKey"`
	SnapshotBlob string    `gorm:"type:longtext;not null"`
}

func (PositionSnapshot) TableName() string { return "position_snapshots" }

// TokenPrice is a single provenance-tagged price sample, unique per
// (mint, ts).
type TokenPrice struct {
	Mint       string      `gorm:"primaryKey;size:64"`
	Ts         time.Time   `gorm:"primaryKey"`
	Price      money.Column `gorm:"type:varchar(78);not null"`
	Source     clientkind.PriceSource `gorm:"not null;size:16"`
	Confidence clientkind.Confidence  `gorm:"not null;size:16"`
}

func (TokenPrice) TableName() string { return "token_prices" }

// TokenPriceBucket is a time-bucketed materialized view over TokenPrice,
// owned entirely by internal/price (spec.md §4.3's "aggregated store").
// Rebuilt periodically by the refresh_materialized_views job.
type TokenPriceBucket struct {
	Mint        string               `gorm:"primaryKey;size:64"`
	BucketWidth clientkind.CandleBucket `gorm:"primaryKey;size:8"`
	BucketTs    time.Time            `gorm:"primaryKey"`
	Open        money.Column         `gorm:"type:varchar(78);not null"`
	High        money.Column         `gorm:"type:varchar(78);not null"`
	Low         money.Column         `gorm:"type:varchar(78);not null"`
	Close       money.Column         `gorm:"type:varchar(78);not null"`
	Volume      money.Column         `gorm:"type:varchar(78);not null"`
	Source      clientkind.PriceSource `gorm:"not null;size:16"`
	Confidence  clientkind.Confidence  `gorm:"not null;size:16"`
}

func (TokenPriceBucket) TableName() string { return "token_price_buckets" }

// Moment is a typed observation of regret, immutable after insert.
type Moment struct {
	ID             string    `gorm:"primaryKey;size:26"`
	Wallet         string    `gorm:"not null;size:64;index"`
	Mint           *string   `gorm:"size:64"`
	Kind           clientkind.MomentKind `gorm:"not null;size:16;index"`
	TEvent         time.Time `gorm:"not null"`
	Window         string    `gorm:"size:32"`
	PctDec         *money.Column `gorm:"type:varchar(78)"`
	MissedUSDDec   *money.Column `gorm:"type:varchar(78)"`
	SeverityDec    money.Column  `gorm:"type:varchar(78);not null"`
	Signature      *string   `gorm:"size:128"`
	Slot           *int64
	Version        int       `gorm:"not null"`
	Explain        string    `gorm:"type:longtext;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (Moment) TableName() string { return "moments" }

// Job is a durable queue row (spec.md §4.1).
type Job struct {
	ID            string    `gorm:"primaryKey;size:26"`
	Kind          clientkind.JobKind `gorm:"not null;size:32;index:idx_job_eligible"`
	Payload       string    `gorm:"type:longtext;not null"`
	Status        clientkind.JobStatus `gorm:"not null;size:16;index:idx_job_eligible"`
	Attempts      int       `gorm:"not null;default:0"`
	MaxAttempts   int       `gorm:"not null"`
	RunAfter      time.Time `gorm:"not null;index:idx_job_eligible"`
	LockedBy      *string   `gorm:"size:64"`
	LockedAt      *time.Time
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index:idx_job_eligible"`
	CompletedAt   *time.Time
}

func (Job) TableName() string { return "jobs" }

// WalletCursor describes the time range already indexed for a wallet.
type WalletCursor struct {
	Wallet        string    `gorm:"primaryKey;size:64"`
	FromTs        time.Time `gorm:"not null"`
	ToTs          time.Time `gorm:"not null"`
	LastCursorSig *string   `gorm:"size:128"`
}

func (WalletCursor) TableName() string { return "wallet_cursors" }

// AllModels lists every model AutoMigrate needs to create or update, in an
// order that satisfies foreign-key-like ordering even though cross-entity
// references are plain string columns rather than gorm associations (spec.md
// §9: "store them flat with foreign keys to episode_id, avoiding
// owning-pointer graphs").
var AllModels = []interface{}{
	&TxRaw{},
	&Participant{},
	&Action{},
	&Episode{},
	&Lot{},
	&RealizedTrade{},
	&PositionSnapshot{},
	&TokenPrice{},
	&TokenPriceBucket{},
	&Moment{},
	&Job{},
	&WalletCursor{},
}
