package price

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// RecordObserved persists a price sample taken directly from an executed
// swap against a stable-valued counter asset (spec.md §4.5: the ingest
// adapter's execution price becomes a source-"observed" sample once it
// clears the position engine). Idempotent on (mint, ts).
func (p *Provider) RecordObserved(ctx context.Context, mint string, ts time.Time, px money.Decimal) error {
	row := store.TokenPrice{
		Mint:       mint,
		Ts:         ts,
		Price:      money.Column{Decimal: px},
		Source:     clientkind.SourceObserved,
		Confidence: clientkind.ConfidenceMedium,
	}
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("price: failed to record observed sample for %s: %w", mint, err)
	}
	return nil
}
