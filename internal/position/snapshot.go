package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
)

// snapshotDoc is the JSON shape persisted in PositionSnapshot.SnapshotBlob.
// Snapshots are purely an optimization — replaying from the earliest action
// must produce byte-identical state (spec.md §4.2, invariant 5 in §8).
type snapshotDoc struct {
	Lots                 []store.Lot    `json:"lots"`
	ActiveEpisode        *store.Episode `json:"active_episode"`
	EpisodeRealizedTotal string         `json:"episode_realized_total"`
	LastTs               time.Time      `json:"last_ts"`
	LastLogIndex         int            `json:"last_log_index"`
}

// LoadLatestSnapshot returns the most recent snapshot for (wallet, mint), or
// a fresh empty State and a zero time if none exists (in which case the
// caller rebuilds from the earliest action, per spec.md §4.2).
func LoadLatestSnapshot(ctx context.Context, db *gorm.DB, wallet, mint string) (*State, time.Time, error) {
	var row store.PositionSnapshot
	err := db.WithContext(ctx).
		Where("wallet = ? AND mint = ?", wallet, mint).
		Order("snapshot_ts desc").
		Limit(1).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return NewState(wallet, mint), time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("position: failed to load snapshot for %s/%s: %w", wallet, mint, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal([]byte(row.SnapshotBlob), &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("position: failed to decode snapshot for %s/%s: %w", wallet, mint, err)
	}

	realizedTotal, err := money.Parse(doc.EpisodeRealizedTotal)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("position: failed to decode snapshot realized total: %w", err)
	}

	state := &State{
		Wallet:               wallet,
		Mint:                 mint,
		Lots:                 doc.Lots,
		ActiveEpisode:        doc.ActiveEpisode,
		EpisodeRealizedTotal: realizedTotal,
		LastTs:               doc.LastTs,
		LastLogIndex:         doc.LastLogIndex,
	}
	return state, row.SnapshotTs, nil
}

// SaveSnapshot persists the current state, resetting EventsSinceSnapshot.
func SaveSnapshot(ctx context.Context, db *gorm.DB, s *State) error {
	doc := snapshotDoc{
		Lots:                 s.Lots,
		ActiveEpisode:        s.ActiveEpisode,
		EpisodeRealizedTotal: s.EpisodeRealizedTotal.String(),
		LastTs:               s.LastTs,
		LastLogIndex:         s.LastLogIndex,
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("position: failed to encode snapshot for %s/%s: %w", s.Wallet, s.Mint, err)
	}

	row := store.PositionSnapshot{
		Wallet:       s.Wallet,
		Mint:         s.Mint,
		SnapshotTs:   s.LastTs,
		SnapshotBlob: string(blob),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("position: failed to persist snapshot for %s/%s: %w", s.Wallet, s.Mint, err)
	}
	s.EventsSinceSnapshot = 0
	return nil
}
