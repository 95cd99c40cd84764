package depth

import (
	"testing"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/rates"
)

func testTable() rates.Table {
	return rates.Table{"USD": decimal.NewFromInt(100000)}
}

func depthOrder(side, premium, amount string) book.Order {
	p := decimal.RequireFromString(premium)
	a := decimal.RequireFromString(amount)
	return book.Order{
		Side:      side,
		Currency:  "USD",
		Premium:   &p,
		MaxAmount: &a,
	}
}

func TestBuildCumulativeCurvesAreMonotonic(t *testing.T) {
	orders := []book.Order{
		depthOrder(book.SideBuy, "2", "1000"),
		depthOrder(book.SideBuy, "-1", "2000"),
		depthOrder(book.SideBuy, "5", "500"),
		depthOrder(book.SideSell, "3", "1500"),
		depthOrder(book.SideSell, "0", "800"),
		depthOrder(book.SideSell, "7", "400"),
	}

	curves := Build(orders, testTable())
	if len(curves.Buy) != 3 || len(curves.Sell) != 3 {
		t.Fatalf("unexpected curve sizes: buy %d sell %d", len(curves.Buy), len(curves.Sell))
	}

	// buy side walks premium descending
	for i := 1; i < len(curves.Buy); i++ {
		if !curves.Buy[i-1].Premium.GreaterThan(curves.Buy[i].Premium) {
			t.Fatal("buy side should be sorted by premium descending")
		}
		if curves.Buy[i].CumulativeBTC.LessThan(curves.Buy[i-1].CumulativeBTC) {
			t.Fatal("buy cumulative volume should never decrease")
		}
	}

	// sell side walks premium ascending
	for i := 1; i < len(curves.Sell); i++ {
		if !curves.Sell[i-1].Premium.LessThan(curves.Sell[i].Premium) {
			t.Fatal("sell side should be sorted by premium ascending")
		}
		if curves.Sell[i].CumulativeBTC.LessThan(curves.Sell[i-1].CumulativeBTC) {
			t.Fatal("sell cumulative volume should never decrease")
		}
	}
}

func TestBuildGroupsEqualPremiums(t *testing.T) {
	orders := []book.Order{
		depthOrder(book.SideSell, "3", "1000"),
		depthOrder(book.SideSell, "3", "2000"),
	}

	curves := Build(orders, testTable())
	if len(curves.Sell) != 1 {
		t.Fatalf("equal premiums should share one level, got %d", len(curves.Sell))
	}

	implied := decimal.NewFromInt(103000)
	want := decimal.NewFromInt(1000).Div(implied).Add(decimal.NewFromInt(2000).Div(implied))
	if !curves.Sell[0].CumulativeBTC.Equal(want) {
		t.Fatalf("wrong grouped volume: %s", curves.Sell[0].CumulativeBTC)
	}
}

func TestBuildUsesPremiumImpliedRate(t *testing.T) {
	orders := []book.Order{depthOrder(book.SideSell, "10", "1100")}

	curves := Build(orders, testTable())
	if len(curves.Sell) != 1 {
		t.Fatalf("expected one level, got %d", len(curves.Sell))
	}
	// 1100 / (100000 * 1.10) = 0.01
	if !curves.Sell[0].CumulativeBTC.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("conversion should use the premium-implied rate: %s", curves.Sell[0].CumulativeBTC)
	}
}

func TestBuildExcludesOversizedOrders(t *testing.T) {
	orders := []book.Order{
		// 60000 / 100000 = 0.6 BTC, over the per-order cap
		depthOrder(book.SideSell, "0", "60000"),
		depthOrder(book.SideSell, "0", "1000"),
	}

	curves := Build(orders, testTable())
	if len(curves.Sell) != 1 {
		t.Fatalf("oversized order should be excluded, got %d levels", len(curves.Sell))
	}
	if !curves.Sell[0].CumulativeBTC.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("wrong surviving volume: %s", curves.Sell[0].CumulativeBTC)
	}
}

func TestBuildExcludesExtremePremiums(t *testing.T) {
	orders := []book.Order{
		depthOrder(book.SideSell, "40.5", "1000"),
		depthOrder(book.SideBuy, "-41", "1000"),
	}

	curves := Build(orders, testTable())
	if len(curves.Buy) != 0 || len(curves.Sell) != 0 {
		t.Fatal("premiums beyond the guard should never reach the curve")
	}
}

func TestBuildSkipsIncompleteOrders(t *testing.T) {
	p := decimal.NewFromInt(2)
	a := decimal.NewFromInt(1000)
	orders := []book.Order{
		{Side: book.SideSell, Currency: "USD", MaxAmount: &a},           // no premium
		{Side: book.SideSell, Currency: "USD", Premium: &p},             // no amount
		{Side: book.SideSell, Currency: "XYZ", Premium: &p, MaxAmount: &a}, // no rate
		{Side: "swap", Currency: "USD", Premium: &p, MaxAmount: &a},     // unknown side
	}

	curves := Build(orders, testTable())
	if len(curves.Buy) != 0 || len(curves.Sell) != 0 {
		t.Fatal("incomplete orders should be skipped")
	}
}

func TestBuildEmptySide(t *testing.T) {
	curves := Build([]book.Order{depthOrder(book.SideBuy, "1", "1000")}, testTable())
	if len(curves.Sell) != 0 {
		t.Fatal("side with no orders should yield an empty series")
	}
	if len(curves.Buy) != 1 {
		t.Fatalf("expected one buy level, got %d", len(curves.Buy))
	}
}
