package rates

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrAllFeedsFailed reports that no rate source produced a usable result
// during a refresh cycle.
var ErrAllFeedsFailed = errors.New("rates: all feeds failed")

// Table maps uppercase currency codes to the fiat price of one BTC. A
// table is rebuilt wholesale on every refresh and treated as immutable by
// readers.
type Table map[string]decimal.Decimal

// Rate looks up a currency, uppercasing the code. Absent and non-positive
// rates both report false.
func (t Table) Rate(code string) (decimal.Decimal, bool) {
	rate, ok := t[strings.ToUpper(code)]
	if !ok || !rate.IsPositive() {
		return decimal.Decimal{}, false
	}
	return rate, true
}

// Aggregator merges multiple independent rate feeds into one table. It is
// the table's single writer; consumers read point-in-time snapshots via
// Table.
type Aggregator struct {
	feeds  []Feed
	logger zerolog.Logger

	mu    sync.RWMutex
	table Table
}

// NewAggregator constructs an aggregator over the given feeds.
func NewAggregator(feeds []Feed, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		feeds:  feeds,
		logger: logger.With().Str("component", "rate_aggregator").Logger(),
		table:  Table{},
	}
}

// Refresh queries every feed concurrently and rebuilds the table as the
// per-currency unweighted mean of all feeds reporting that currency. It
// returns the merged table and the number of feeds that contributed.
// Individual feed faults only narrow the source set; when every feed
// fails the previous table is retained and ErrAllFeedsFailed returned.
func (a *Aggregator) Refresh(ctx context.Context) (Table, int, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []map[string]decimal.Decimal
	)

	for _, feed := range a.feeds {
		wg.Add(1)
		go func(f Feed) {
			defer wg.Done()

			fetched, err := f.Fetch(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Str("feed", f.Name()).Msg("rate feed failed")
				return
			}

			mu.Lock()
			results = append(results, fetched)
			mu.Unlock()
		}(feed)
	}
	wg.Wait()

	if len(results) == 0 {
		return Table{}, 0, ErrAllFeedsFailed
	}

	merged := average(results)
	a.mu.Lock()
	a.table = merged
	a.mu.Unlock()

	a.logger.Info().Int("sources", len(results)).Int("currencies", len(merged)).Msg("rate table rebuilt")
	return merged, len(results), nil
}

// Table returns the most recent successfully merged table.
func (a *Aggregator) Table() Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table
}

// average computes the unweighted per-currency mean. A currency reported
// by zero feeds is absent from the result, never zero.
func average(sources []map[string]decimal.Decimal) Table {
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	for _, source := range sources {
		for code, rate := range source {
			if !rate.IsPositive() {
				continue
			}
			sums[code] = sums[code].Add(rate)
			counts[code]++
		}
	}

	merged := make(Table, len(sums))
	for code, sum := range sums {
		merged[code] = sum.Div(decimal.NewFromInt(int64(counts[code])))
	}
	return merged
}
