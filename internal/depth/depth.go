package depth

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/rates"
)

// Point is one sample on a side's cumulative depth curve.
type Point struct {
	Premium       decimal.Decimal
	CumulativeBTC decimal.Decimal
}

// Book holds both cumulative curves. A side with no qualifying orders
// yields an empty series.
type Book struct {
	Buy  []Point
	Sell []Point
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// Guards against corrupted or troll orders distorting the curve.
	maxOrderBTC   = decimal.RequireFromString("0.5")
	maxAbsPremium = decimal.NewFromInt(40)
)

// Build folds the live orders into per-side cumulative volume curves in
// BTC. Each order's fiat amount is converted at the rate its own premium
// implies, not the raw market rate.
func Build(orders []book.Order, table rates.Table) Book {
	buy := make(map[string]*level)
	sell := make(map[string]*level)

	for _, order := range orders {
		if order.Premium == nil || order.MaxAmount == nil {
			continue
		}
		if order.Premium.Abs().GreaterThan(maxAbsPremium) {
			continue
		}

		rate, ok := table.Rate(order.Currency)
		if !ok {
			continue
		}

		implied := rate.Mul(one.Add(order.Premium.Div(hundred)))
		if !implied.IsPositive() {
			continue
		}

		btc := order.MaxAmount.Div(implied)
		if !btc.IsPositive() || btc.GreaterThan(maxOrderBTC) {
			continue
		}

		var levels map[string]*level
		switch strings.ToLower(order.Side) {
		case book.SideBuy:
			levels = buy
		case book.SideSell:
			levels = sell
		default:
			continue
		}

		key := order.Premium.String()
		if lv, ok := levels[key]; ok {
			lv.volume = lv.volume.Add(btc)
		} else {
			levels[key] = &level{premium: *order.Premium, volume: btc}
		}
	}

	return Book{
		Buy:  accumulate(buy, true),
		Sell: accumulate(sell, false),
	}
}

type level struct {
	premium decimal.Decimal
	volume  decimal.Decimal
}

// accumulate orders the levels outward from the best price (buy: premium
// descending, sell: ascending) and produces the running cumulative sum.
func accumulate(levels map[string]*level, descending bool) []Point {
	if len(levels) == 0 {
		return nil
	}

	sorted := make([]*level, 0, len(levels))
	for _, lv := range levels {
		sorted = append(sorted, lv)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if descending {
			return sorted[i].premium.GreaterThan(sorted[j].premium)
		}
		return sorted[i].premium.LessThan(sorted[j].premium)
	})

	points := make([]Point, 0, len(sorted))
	running := decimal.Zero
	for _, lv := range sorted {
		running = running.Add(lv.volume)
		points = append(points, Point{Premium: lv.premium, CumulativeBTC: running})
	}
	return points
}
