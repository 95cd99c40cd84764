package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/rates"
)

func table() rates.Table {
	return rates.Table{
		"USD": decimal.NewFromInt(100000),
		"EUR": decimal.NewFromInt(90000),
	}
}

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestDeriveFormatsWithThousandsSeparators(t *testing.T) {
	price, ok := Derive(decimal.NewFromInt(500), "usd", dec("10"), table())
	if !ok {
		t.Fatal("expected a derived price")
	}
	if price != "110,000 USD/BTC" {
		t.Fatalf("wrong price: %s", price)
	}
}

func TestDeriveNilPremiumMeansNoOffset(t *testing.T) {
	price, ok := Derive(decimal.NewFromInt(500), "EUR", nil, table())
	if !ok {
		t.Fatal("expected a derived price")
	}
	if price != "90,000 EUR/BTC" {
		t.Fatalf("wrong price: %s", price)
	}
}

func TestDeriveNegativePremium(t *testing.T) {
	price, ok := Derive(decimal.NewFromInt(500), "USD", dec("-5"), table())
	if !ok {
		t.Fatal("expected a derived price")
	}
	if price != "95,000 USD/BTC" {
		t.Fatalf("wrong price: %s", price)
	}
}

func TestDeriveRoundsToWholeUnits(t *testing.T) {
	price, ok := Derive(decimal.NewFromInt(500), "USD", dec("0.0009"), table())
	if !ok {
		t.Fatal("expected a derived price")
	}
	if price != "100,001 USD/BTC" {
		t.Fatalf("wrong rounding: %s", price)
	}
}

func TestDeriveFailureCases(t *testing.T) {
	if _, ok := Derive(decimal.Zero, "USD", nil, table()); ok {
		t.Fatal("zero amount should not derive")
	}
	if _, ok := Derive(decimal.NewFromInt(500), "", nil, table()); ok {
		t.Fatal("empty currency should not derive")
	}
	if _, ok := Derive(decimal.NewFromInt(500), "XYZ", nil, table()); ok {
		t.Fatal("unknown currency should not derive")
	}
}
