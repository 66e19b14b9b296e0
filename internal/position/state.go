// Package position implements the FIFO lot-matching position engine
// described in spec.md §4.2: the single source of truth for cost basis and
// realized PnL for every (wallet, mint) pair.
package position

import (
	"time"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
)

// Action is the engine's input shape: one chronologically ordered effect on
// a (wallet, mint) position. It mirrors store.Action's relevant fields so
// the engine does not need to import the full gorm model for its core logic.
type Action struct {
	ID           string
	Signature    string
	LogIndex     int
	Slot         int64
	Ts           time.Time
	Kind         string // buy | sell | swap | transfer | sol_transfer | mint | burn | tx
	Wallet       string
	Mint         string
	AmountDec    *money.Decimal
	ExecPxUSDDec *money.Decimal
	Counterparty string // for transfer classification
}

// State is the engine's per-(wallet, mint) working state: an ordered lot
// queue (head = oldest), the optional active episode, and the running
// realized total for that episode (spec.md §4.2 "State").
type State struct {
	Wallet               string
	Mint                 string
	Lots                 []store.Lot
	ActiveEpisode        *store.Episode
	EpisodeRealizedTotal money.Decimal
	EventsSinceSnapshot  int
	LastTs               time.Time
	LastLogIndex         int
}

// NewState returns an empty, freshly-opened state for a (wallet, mint) pair.
func NewState(wallet, mint string) *State {
	return &State{Wallet: wallet, Mint: mint, EpisodeRealizedTotal: money.Zero}
}

// Exposure is the sum of qty_remaining over all open lots — invariant 1 in
// spec.md §8.
func (s *State) Exposure() money.Decimal {
	total := money.Zero
	for _, lot := range s.Lots {
		total = total.Add(lot.QtyRemaining.Decimal)
	}
	return total
}
