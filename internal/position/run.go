package position

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/store"
)

// OnResult is invoked after each action is applied, with the resulting
// mutation — the hook the detector framework (internal/detect) attaches to,
// so detectors see position state exactly as of that event (spec.md §4.4).
type OnResult func(ctx context.Context, action Action, state *State, result Result) error

// Sort puts actions in the canonical processing order: (ts, slot, log_index,
// signature) — see DESIGN.md's tie-break decision.
func Sort(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if !a.Ts.Equal(b.Ts) {
			return a.Ts.Before(b.Ts)
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.Signature < b.Signature
	})
}

// Run loads the latest snapshot for (wallet, mint), replays every action
// strictly after it, persists the resulting lots/episodes/realized trades,
// and snapshots every snapshotEvery events plus once at the end of the run.
// actions need not be pre-sorted; Run sorts them itself.
func (e *Engine) Run(ctx context.Context, db *gorm.DB, wallet, mint string, actions []Action, snapshotEvery int, onResult OnResult) error {
	if snapshotEvery <= 0 {
		snapshotEvery = 100
	}

	state, _, err := LoadLatestSnapshot(ctx, db, wallet, mint)
	if err != nil {
		return err
	}

	Sort(actions)

	touchedEpisodes := make(map[string]*store.Episode)
	var trades []*store.RealizedTrade

	for _, a := range actions {
		if !isAfter(a, state) {
			continue
		}

		result, err := e.Apply(ctx, state, a)
		if err != nil {
			return fmt.Errorf("position: invariant violation processing %s/%s action %s: %w", wallet, mint, a.ID, err)
		}

		if state.ActiveEpisode != nil {
			touchedEpisodes[state.ActiveEpisode.EpisodeID] = state.ActiveEpisode
		}
		if result.ClosedEpisode != nil {
			touchedEpisodes[result.ClosedEpisode.EpisodeID] = result.ClosedEpisode
		}
		if result.Trade != nil {
			trades = append(trades, result.Trade)
		}

		if onResult != nil {
			if err := onResult(ctx, a, state, result); err != nil {
				return fmt.Errorf("position: onResult callback failed for action %s: %w", a.ID, err)
			}
		}

		if state.EventsSinceSnapshot >= snapshotEvery {
			if err := persistAndSnapshot(ctx, db, state, touchedEpisodes, trades); err != nil {
				return err
			}
			trades = nil
		}
	}

	return persistAndSnapshot(ctx, db, state, touchedEpisodes, trades)
}

// isAfter reports whether a is strictly after the state's last processed
// marker, so replay from a snapshot never double-applies an action.
func isAfter(a Action, s *State) bool {
	if s.LastTs.IsZero() {
		return true
	}
	if a.Ts.After(s.LastTs) {
		return true
	}
	if a.Ts.Equal(s.LastTs) {
		return a.LogIndex > s.LastLogIndex
	}
	return false
}

// persistAndSnapshot writes touched episodes, newly realized trades, the
// current open-lot set, and a fresh snapshot in one transaction. Lots are
// reconciled by replacing the (wallet, mint) row set wholesale with the
// engine's current in-memory view, which is always the authoritative state
// (spec.md §4.2: "Snapshots ... MUST produce identical results to a full
// replay").
func persistAndSnapshot(ctx context.Context, db *gorm.DB, state *State, touchedEpisodes map[string]*store.Episode, trades []*store.RealizedTrade) error {
	if len(touchedEpisodes) == 0 && len(trades) == 0 && state.EventsSinceSnapshot == 0 {
		return nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ep := range touchedEpisodes {
			if err := tx.Save(ep).Error; err != nil {
				return fmt.Errorf("failed to persist episode %s: %w", ep.EpisodeID, err)
			}
		}
		for _, trade := range trades {
			if err := tx.Create(trade).Error; err != nil {
				return fmt.Errorf("failed to persist realized trade %s: %w", trade.ExitID, err)
			}
		}

		if err := tx.Where("wallet = ? AND mint = ?", state.Wallet, state.Mint).Delete(&store.Lot{}).Error; err != nil {
			return fmt.Errorf("failed to clear stale lots for %s/%s: %w", state.Wallet, state.Mint, err)
		}
		if len(state.Lots) > 0 {
			lots := make([]store.Lot, len(state.Lots))
			copy(lots, state.Lots)
			if err := tx.Create(&lots).Error; err != nil {
				return fmt.Errorf("failed to persist lots for %s/%s: %w", state.Wallet, state.Mint, err)
			}
		}

		if state.EventsSinceSnapshot > 0 {
			return SaveSnapshot(ctx, tx, state)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("position: %w", err)
	}
	return nil
}
