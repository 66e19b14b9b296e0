package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/pkg/clientkind"
)

// externalBatchSize bounds a single request to the quotation API, mirroring
// the API's own documented limit (spec.md §6).
const externalBatchSize = 50

// ExternalQuote is a single mint's answer from the external quotation API.
type ExternalQuote struct {
	Price money.Decimal
	Ts    time.Time
}

// ExternalClient is the live external quotation API (spec.md §4.3 source 4).
// Implemented by httpExternalClient; swappable in tests.
type ExternalClient interface {
	FetchPrices(ctx context.Context, mints []string) (map[string]ExternalQuote, error)
}

// httpExternalClient talks to a REST quotation API returning
// {"data": {"<mint>": {"price": "1.23", "timestamp": "..."}}}.
type httpExternalClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPExternalClient builds the default ExternalClient.
func NewHTTPExternalClient(baseURL, apiKey string) ExternalClient {
	return &httpExternalClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type externalResponse struct {
	Data map[string]struct {
		Price     string    `json:"price"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"data"`
}

func (c *httpExternalClient) FetchPrices(ctx context.Context, mints []string) (map[string]ExternalQuote, error) {
	out := make(map[string]ExternalQuote, len(mints))

	for start := 0; start < len(mints); start += externalBatchSize {
		end := start + externalBatchSize
		if end > len(mints) {
			end = len(mints)
		}
		batch, err := c.fetchBatch(ctx, mints[start:end])
		if err != nil {
			return nil, err
		}
		for k, v := range batch {
			out[k] = v
		}
	}
	return out, nil
}

func (c *httpExternalClient) fetchBatch(ctx context.Context, mints []string) (map[string]ExternalQuote, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("price: failed to build external request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price: external quotation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price: external quotation API returned status %d", resp.StatusCode)
	}

	var parsed externalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("price: failed to decode external quotation response: %w", err)
	}

	out := make(map[string]ExternalQuote, len(parsed.Data))
	for mint, v := range parsed.Data {
		px, err := money.Parse(v.Price)
		if err != nil {
			continue
		}
		out[mint] = ExternalQuote{Price: px, Ts: v.Timestamp}
	}
	return out, nil
}

// fetchAndPersistExternal calls the external API for a single mint,
// persists the sample into the raw store for future source-3 hits, and
// returns it tagged high-confidence (spec.md §4.3: live external quotes are
// the highest-confidence non-cached source).
func (p *Provider) fetchAndPersistExternal(ctx context.Context, mint string, t time.Time) (Result, bool, error) {
	quotes, err := p.external.FetchPrices(ctx, []string{mint})
	if err != nil {
		return Result{}, false, fmt.Errorf("price: external fetch failed for %s: %w", mint, err)
	}
	q, ok := quotes[mint]
	if !ok {
		return Result{}, false, nil
	}

	ts := q.Ts
	if ts.IsZero() {
		ts = t
	}

	row := store.TokenPrice{
		Mint:       mint,
		Ts:         ts,
		Price:      money.Column{Decimal: q.Price},
		Source:     clientkind.SourceExternal,
		Confidence: clientkind.ConfidenceHigh,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Persisting is best-effort: a duplicate (mint, ts) or transient
		// write failure shouldn't hide a perfectly good live quote.
		_ = err
	}

	return Result{Price: q.Price, Source: clientkind.SourceExternal, Confidence: clientkind.ConfidenceHigh, Ts: ts}, true, nil
}
