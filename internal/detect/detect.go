// Package detect implements the detector framework of spec.md §4.4: a small
// capability-set contract, a registration-order dispatch table, and a
// fan-out of emitted moments to per-wallet and global subscriber topics.
package detect

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/metrics"
	"github.com/oofstack/oofcore/internal/position"
	"github.com/oofstack/oofcore/internal/price"
	"github.com/oofstack/oofcore/internal/store"
)

// Event is the per-action context a detector is invoked with: the action
// itself plus the position state immediately after it was applied.
type Event struct {
	Action position.Action
	State  *position.State
	Result position.Result
}

// PriceLookup is the read-side price dependency detectors need. Satisfied
// by *price.Provider.
type PriceLookup interface {
	Quote(ctx context.Context, mint string, t time.Time) (price.Result, bool, error)
	Range(ctx context.Context, mint string, t0, t1 time.Time) (price.RangeResult, bool, error)
}

// Context is what a detector's Process method can read from besides the
// event itself.
type Context struct {
	Prices PriceLookup
}

// Detector is the contract every built-in and future detector implements
// (spec.md §4.4: "name, version, should_process, process").
type Detector interface {
	Name() string
	Version() int
	ShouldProcess(ev Event) bool
	Process(ctx context.Context, ev Event, dctx *Context) (*store.Moment, error)
}

// Framework dispatches events to registered detectors in registration
// order and publishes emitted moments to subscriber topics.
type Framework struct {
	db        *gorm.DB
	dctx      *Context
	detectors []Detector
	metrics   *metrics.Collectors

	mu       sync.RWMutex
	global   []chan *store.Moment
	wallets  map[string][]chan *store.Moment

	failures map[string]int64
}

// New builds a Framework backed by db, reading prices through prices.
func New(db *gorm.DB, prices PriceLookup) *Framework {
	return &Framework{
		db:       db,
		dctx:     &Context{Prices: prices},
		wallets:  make(map[string][]chan *store.Moment),
		failures: make(map[string]int64),
	}
}

// WithMetrics wires detector emission/failure counters (SPEC_FULL.md §3).
func (f *Framework) WithMetrics(m *metrics.Collectors) *Framework {
	f.metrics = m
	return f
}

// Register appends a detector to the dispatch table. Registration order is
// the invocation order (spec.md §4.4).
func (f *Framework) Register(d Detector) {
	f.detectors = append(f.detectors, d)
}

// SubscribeGlobal returns a channel that receives every moment emitted by
// any wallet. Subscribers must tolerate duplicate delivery (spec.md §4.4).
func (f *Framework) SubscribeGlobal(buffer int) <-chan *store.Moment {
	ch := make(chan *store.Moment, buffer)
	f.mu.Lock()
	f.global = append(f.global, ch)
	f.mu.Unlock()
	return ch
}

// SubscribeWallet returns a channel that receives only moments for wallet.
func (f *Framework) SubscribeWallet(wallet string, buffer int) <-chan *store.Moment {
	ch := make(chan *store.Moment, buffer)
	f.mu.Lock()
	f.wallets[wallet] = append(f.wallets[wallet], ch)
	f.mu.Unlock()
	return ch
}

// FailureCount returns how many times the named detector has failed, for
// the metrics surface.
func (f *Framework) FailureCount(name string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.failures[name]
}

// Dispatch runs every registered detector whose ShouldProcess predicate
// matches ev. Detector failures (error return or panic) are isolated: they
// are logged and counted, and never stop the remaining detectors or abort
// the event (spec.md §4.4 "Detector isolation").
func (f *Framework) Dispatch(ctx context.Context, ev Event) []*store.Moment {
	var emitted []*store.Moment

	for _, d := range f.detectors {
		if !d.ShouldProcess(ev) {
			continue
		}

		moment, err := f.runDetector(ctx, d, ev)
		if err != nil {
			f.recordFailure(d.Name())
			log.Printf("detect: %s failed on action %s: %v", d.Name(), ev.Action.ID, err)
			continue
		}
		if moment == nil {
			continue
		}

		if err := f.persistAndPublish(ctx, moment); err != nil {
			log.Printf("detect: failed to persist moment from %s: %v", d.Name(), err)
			continue
		}
		if f.metrics != nil {
			f.metrics.ObserveMoment(moment.Kind)
		}
		emitted = append(emitted, moment)
	}

	return emitted
}

// runDetector calls a single detector's Process, converting a panic into an
// error so one misbehaving detector can never take down dispatch.
func (f *Framework) runDetector(ctx context.Context, d Detector, ev Event) (moment *store.Moment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Process(ctx, ev, f.dctx)
}

func (f *Framework) recordFailure(name string) {
	f.mu.Lock()
	f.failures[name]++
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.DetectorFailed.WithLabelValues(name).Inc()
	}
}

// persistAndPublish saves the moment and fans it out to subscriber topics
// in one logical step (spec.md §4.4). Publishing never blocks: a full
// subscriber channel simply misses the delivery, matching the backpressure
// policy in spec.md §5 ("producers do not block").
func (f *Framework) persistAndPublish(ctx context.Context, moment *store.Moment) error {
	if err := f.db.WithContext(ctx).Create(moment).Error; err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.global {
		select {
		case ch <- moment:
		default:
		}
	}
	for _, ch := range f.wallets[moment.Wallet] {
		select {
		case ch <- moment:
		default:
		}
	}
	return nil
}
