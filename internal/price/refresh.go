package price

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// StaleMints lists mints touched by an action within activeWindow whose
// freshest external sample is older than staleThreshold (or missing
// entirely) — the selection spec.md §4.3's refresh_prices job runs against
// ("mints active in recent actions whose freshest external price is older
// than a threshold").
func (p *Provider) StaleMints(ctx context.Context, activeWindow, staleThreshold time.Duration) ([]string, error) {
	var active []string
	err := p.db.WithContext(ctx).Model(&store.Action{}).
		Where("ts >= ? AND mint IS NOT NULL AND mint <> ''", time.Now().Add(-activeWindow)).
		Distinct("mint").
		Pluck("mint", &active).Error
	if err != nil {
		return nil, fmt.Errorf("price: failed to list recently active mints: %w", err)
	}

	cutoff := time.Now().Add(-staleThreshold)
	var stale []string
	for _, mint := range active {
		var latest store.TokenPrice
		err := p.db.WithContext(ctx).
			Where("mint = ? AND source = ?", mint, clientkind.SourceExternal).
			Order("ts desc").Limit(1).First(&latest).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			stale = append(stale, mint)
		case err != nil:
			return nil, fmt.Errorf("price: failed to check freshness for %s: %w", mint, err)
		case latest.Ts.Before(cutoff):
			stale = append(stale, mint)
		}
	}
	return stale, nil
}

// RefreshExternal force-fetches mints from the external quotation API and
// persists the results, bypassing the price_at cascade entirely — the
// proactive side of spec.md §4.3's source 4, driven by the refresh_prices
// job rather than a reader's cache miss.
func (p *Provider) RefreshExternal(ctx context.Context, mints []string) (int, error) {
	if p.external == nil || len(mints) == 0 {
		return 0, nil
	}

	quotes, err := p.external.FetchPrices(ctx, mints)
	if err != nil {
		return 0, fmt.Errorf("price: refresh_prices fetch failed: %w", err)
	}

	count := 0
	for mint, q := range quotes {
		ts := q.Ts
		if ts.IsZero() {
			ts = time.Now()
		}
		row := store.TokenPrice{
			Mint:       mint,
			Ts:         ts,
			Price:      money.Column{Decimal: q.Price},
			Source:     clientkind.SourceExternal,
			Confidence: clientkind.ConfidenceHigh,
		}
		if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			continue
		}
		res := Result{Price: q.Price, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh, Ts: ts}
		p.cache.put(mint, res)
		count++
	}
	return count, nil
}
