package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Feed retrieves BTC/fiat conversion rates from one external source.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) (map[string]decimal.Decimal, error)
}

// FeedOptions parameterise an HTTP rate feed.
type FeedOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// assetFeed normalises a `{"<asset>": {"<currency>": <rate>, ...}}` JSON
// document. Both upstream feeds share this shape and differ only in key
// casing, which the asset lookup and key uppercasing absorb.
type assetFeed struct {
	name   string
	url    string
	asset  string
	agent  string
	client *http.Client
	logger zerolog.Logger
}

// NewCoinGeckoFeed builds the CoinGecko simple-price feed.
func NewCoinGeckoFeed(opts FeedOptions, logger zerolog.Logger) Feed {
	return newAssetFeed("coingecko", "bitcoin", opts, logger)
}

// NewYadioFeed builds the Yadio exchange-rate feed.
func NewYadioFeed(opts FeedOptions, logger zerolog.Logger) Feed {
	return newAssetFeed("yadio", "BTC", opts, logger)
}

func newAssetFeed(name, asset string, opts FeedOptions, logger zerolog.Logger) *assetFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &assetFeed{
		name:   name,
		url:    opts.URL,
		asset:  asset,
		agent:  opts.UserAgent,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "rate_feed").Str("feed", name).Logger(),
	}
}

func (f *assetFeed) Name() string {
	return f.name
}

// Fetch retrieves and normalises the feed's rate document. Currency codes
// are uppercased; non-positive rates are dropped as absent.
func (f *assetFeed) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	if f.url == "" {
		return nil, fmt.Errorf("feed %s: url not configured", f.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed %s: create request: %w", f.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if agent := strings.TrimSpace(f.agent); agent != "" {
		req.Header.Set("User-Agent", agent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: request: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s: unexpected status %d", f.name, resp.StatusCode)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("feed %s: decode response: %w", f.name, err)
	}

	var nested json.RawMessage
	for key, raw := range doc {
		if strings.EqualFold(key, f.asset) {
			nested = raw
			break
		}
	}
	if nested == nil {
		return nil, fmt.Errorf("feed %s: response missing %q object", f.name, f.asset)
	}

	var parsed map[string]decimal.Decimal
	if err := json.Unmarshal(nested, &parsed); err != nil {
		return nil, fmt.Errorf("feed %s: decode rates: %w", f.name, err)
	}

	rates := make(map[string]decimal.Decimal, len(parsed))
	for code, rate := range parsed {
		if !rate.IsPositive() {
			continue
		}
		rates[strings.ToUpper(code)] = rate
	}

	f.logger.Debug().Int("currencies", len(rates)).Msg("rates fetched")
	return rates, nil
}

var _ Feed = (*assetFeed)(nil)
