// Package ingest implements the event source adapter of spec.md §4.5: it
// accepts already-verified transaction notifications, normalizes them into
// TxRaw/Participant/Action rows, and persists the raw payload to object
// storage under a deterministic key.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oofstack/oofcore/internal/ids"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/objectstore"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// TokenTransfer is one SPL-style transfer within a notification.
type TokenTransfer struct {
	FromUser    string
	ToUser      string
	Mint        string
	TokenAmount string // decimal string
}

// NativeTransfer is one native-asset transfer within a notification.
type NativeTransfer struct {
	FromUser       string
	ToUser         string
	AmountLamports int64
}

// Notification is the parsed shape the adapter consumes (spec.md §6).
type Notification struct {
	Signature       string
	Slot            int64
	Timestamp       int64 // unix seconds
	AccountKeys     []string
	TokenTransfers  []TokenTransfer
	NativeTransfers []NativeTransfer
	Type            string // optional: "swap", "buy", "sell"
	Source          string
	Fee             int64
	Description     string
	Raw             []byte // original payload, persisted verbatim to object storage
}

// Result describes what one notification produced, for job-chaining and
// price-refresh fan-out.
type Result struct {
	Signature    string
	MintsTouched map[string]bool
	Skipped      bool
	SkipReason   string
}

// Adapter is the event source adapter (spec.md §4.5).
type Adapter struct {
	db      *gorm.DB
	objects objectstore.Store
}

// New builds an Adapter.
func New(db *gorm.DB, objects objectstore.Store) *Adapter {
	return &Adapter{db: db, objects: objects}
}

// Ingest processes a batch of notifications, returning one Result per
// notification in order and the union of distinct mints touched across the
// batch (spec.md §4.5 step 6, for downstream price refresh).
func (a *Adapter) Ingest(ctx context.Context, batch []Notification) ([]Result, map[string]bool, error) {
	results := make([]Result, 0, len(batch))
	allMints := make(map[string]bool)

	for _, n := range batch {
		res, err := a.ingestOne(ctx, n)
		if err != nil {
			return results, allMints, fmt.Errorf("ingest: failed on signature %s: %w", n.Signature, err)
		}
		results = append(results, res)
		for m := range res.MintsTouched {
			allMints[m] = true
		}
	}

	return results, allMints, nil
}

func (a *Adapter) ingestOne(ctx context.Context, n Notification) (Result, error) {
	if n.Signature == "" {
		return Result{Skipped: true, SkipReason: "missing signature"}, nil
	}

	if err := a.persistRaw(n); err != nil {
		// Storage errors propagate per spec.md §7 ("Storage errors:
		// propagate up; the job fails and is retried").
		return Result{}, fmt.Errorf("failed to persist raw payload: %w", err)
	}

	blockTime := time.Unix(n.Timestamp, 0).UTC()

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertTxRaw(tx, n, blockTime); err != nil {
			return err
		}
		if err := upsertParticipants(tx, n); err != nil {
			return err
		}
		if err := insertActions(tx, n, blockTime); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	mints := make(map[string]bool)
	for _, t := range n.TokenTransfers {
		if t.Mint != "" {
			mints[t.Mint] = true
		}
	}

	return Result{Signature: n.Signature, MintsTouched: mints}, nil
}

func (a *Adapter) persistRaw(n Notification) error {
	if a.objects == nil || len(n.Raw) == 0 {
		return nil
	}
	key := objectstore.KeyFor(n.Signature)
	return a.objects.Put(key, n.Raw)
}

// upsertTxRaw inserts a TxRaw row, or updates only status on conflict
// (spec.md §4.5 step 2, invariant 6 "action uniqueness").
func upsertTxRaw(tx *gorm.DB, n Notification, blockTime time.Time) error {
	row := store.TxRaw{
		Signature:  n.Signature,
		Slot:       n.Slot,
		BlockTime:  blockTime,
		Status:     "confirmed",
		StorageKey: objectstore.KeyFor(n.Signature),
		RawSize:    int64(len(n.Raw)),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoUpdates: clause.AssignmentColumns([]string{"status"}),
	}).Create(&row).Error
}

// upsertParticipants inserts one (signature, wallet) edge per account key,
// ignoring conflicts so re-ingestion is a no-op.
func upsertParticipants(tx *gorm.DB, n Notification) error {
	if len(n.AccountKeys) == 0 {
		return nil
	}
	rows := make([]store.Participant, 0, len(n.AccountKeys))
	seen := make(map[string]bool, len(n.AccountKeys))
	for _, wallet := range n.AccountKeys {
		if wallet == "" || seen[wallet] {
			continue
		}
		seen[wallet] = true
		rows = append(rows, store.Participant{Signature: n.Signature, Wallet: wallet})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// insertActions classifies and inserts one Action per transfer, or a single
// placeholder action if the notification has no transfers (spec.md §4.5
// steps 4-5). (signature, log_index) uniqueness makes re-ingestion
// idempotent via OnConflict DoNothing.
func insertActions(tx *gorm.DB, n Notification, blockTime time.Time) error {
	logIndex := 0
	var rows []store.Action

	kind := classifyNotificationKind(n.Type)

	for _, t := range n.TokenTransfers {
		amount, err := money.Parse(t.TokenAmount)
		if err != nil {
			log.Printf("ingest: skipping token transfer with unparseable amount %q: sig=%s", t.TokenAmount, n.Signature)
			continue
		}
		actionKind := kind
		if actionKind == "" {
			actionKind = classifyTransferKind(t.FromUser, t.ToUser)
		}
		wallet := t.ToUser
		if wallet == "" {
			wallet = t.FromUser
		}
		mint := t.Mint
		rows = append(rows, store.Action{
			ID:           ids.New(),
			Signature:    n.Signature,
			LogIndex:     logIndex,
			Slot:         n.Slot,
			Ts:           blockTime,
			Kind:         actionKind,
			Wallet:       wallet,
			Mint:         &mint,
			AmountDec:    &money.Column{Decimal: amount},
			Route:        n.Description,
		})
		logIndex++
	}

	for _, t := range n.NativeTransfers {
		actionKind := clientkind.ActionSolTransfer
		wallet := t.ToUser
		if wallet == "" {
			wallet = t.FromUser
		}
		amount := money.New(t.AmountLamports, -9) // lamports -> SOL, 9 decimals
		rows = append(rows, store.Action{
			ID:        ids.New(),
			Signature: n.Signature,
			LogIndex:  logIndex,
			Slot:      n.Slot,
			Ts:        blockTime,
			Kind:      actionKind,
			Wallet:    wallet,
			AmountDec: &money.Column{Decimal: amount},
		})
		logIndex++
	}

	if len(rows) == 0 {
		rows = append(rows, store.Action{
			ID:        ids.New(),
			Signature: n.Signature,
			LogIndex:  0,
			Slot:      n.Slot,
			Ts:        blockTime,
			Kind:      clientkind.ActionTx,
		})
	}

	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// classifyNotificationKind uses the notification's own semantic type when
// present (spec.md §4.5 step 4).
func classifyNotificationKind(t string) clientkind.ActionKind {
	switch t {
	case "swap":
		return clientkind.ActionSwap
	case "buy":
		return clientkind.ActionBuy
	case "sell":
		return clientkind.ActionSell
	default:
		return ""
	}
}

// classifyTransferKind derives kind from the transfer shape when the
// notification gives no explicit semantic type.
func classifyTransferKind(from, to string) clientkind.ActionKind {
	switch {
	case from != "" && to != "":
		return clientkind.ActionTransfer
	case from == "":
		return clientkind.ActionMint
	default:
		return clientkind.ActionBurn
	}
}
