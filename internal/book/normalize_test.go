package book

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/rates"
)

func testTable() rates.Table {
	return rates.Table{
		"USD": decimal.NewFromInt(100000),
		"EUR": decimal.NewFromInt(90000),
	}
}

func pendingEvent(tags ...[]string) nostr.Event {
	base := [][]string{
		{"d", "order-1"},
		{"s", StatusPending},
		{"k", SideSell},
		{"f", "USD"},
	}
	return nostr.Event{
		ID:        "ev-1",
		PubKey:    "pk-1",
		CreatedAt: time.Now().Unix(),
		Kind:      38383,
		Tags:      append(base, tags...),
	}
}

func TestNormalizeBasicOrder(t *testing.T) {
	ev := pendingEvent(
		[]string{"fa", "1500"},
		[]string{"premium", "5"},
		[]string{"bond", "3"},
		[]string{"pm", "sepa", "bizum"},
		[]string{"y", "mostro"},
	)

	order, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("expected order to normalize")
	}
	if order.LogicalID != "order-1" {
		t.Fatalf("wrong logical id: %s", order.LogicalID)
	}
	if order.Amount != "1,500" {
		t.Fatalf("wrong amount: %s", order.Amount)
	}
	if order.PaymentMethods != "sepa bizum" {
		t.Fatalf("wrong payment methods: %s", order.PaymentMethods)
	}
	if order.Premium == nil || !order.Premium.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("wrong premium: %v", order.Premium)
	}
	// 100000 * 1.05 = 105000
	if order.Price != "105,000 USD/BTC" {
		t.Fatalf("wrong price: %s", order.Price)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	ev := pendingEvent([]string{"fa", "1500"}, []string{"premium", "5"})

	first, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("expected order to normalize")
	}
	second, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("expected order to normalize twice")
	}
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Fatalf("normalization not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestNormalizeRejectsNonPending(t *testing.T) {
	ev := pendingEvent()
	for i, tag := range ev.Tags {
		if tag[0] == "s" {
			ev.Tags[i] = []string{"s", "success"}
		}
	}
	if _, ok := Normalize(ev, testTable()); ok {
		t.Fatal("non-pending order should be rejected")
	}
}

func TestNormalizeRejectsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	ev := pendingEvent([]string{"expiration", fmt.Sprintf("%d", past)})
	if _, ok := Normalize(ev, testTable()); ok {
		t.Fatal("expired order should be rejected")
	}
}

func TestNormalizeCurrencyAliases(t *testing.T) {
	cases := map[string]string{
		"usdt": "USD",
		"€":    "EUR",
		"":     "USD",
		"ves":  "VES",
	}
	for raw, want := range cases {
		ev := pendingEvent()
		for i, tag := range ev.Tags {
			if tag[0] == "f" {
				ev.Tags[i] = []string{"f", raw}
			}
		}
		order, ok := Normalize(ev, testTable())
		if !ok {
			t.Fatalf("order with currency %q should normalize", raw)
		}
		if order.Currency != want {
			t.Fatalf("currency %q: got %s, want %s", raw, order.Currency, want)
		}
	}
}

func TestNormalizeRangeAmount(t *testing.T) {
	ev := pendingEvent([]string{"fa", "", "100", "2000"}, []string{"premium", "0"})

	order, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("ranged order should normalize")
	}
	if order.Amount != "100 - 2,000" {
		t.Fatalf("wrong range display: %s", order.Amount)
	}
	if order.MaxAmount == nil || !order.MaxAmount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("range max should drive the math: %v", order.MaxAmount)
	}
	if order.Price != "100,000 USD/BTC" {
		t.Fatalf("wrong price for ranged order: %s", order.Price)
	}
}

func TestNormalizeMalformedAmount(t *testing.T) {
	ev := pendingEvent([]string{"fa", "not-a-number"})

	order, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("order with malformed amount should still normalize")
	}
	if order.Amount != "-" {
		t.Fatalf("malformed amount should degrade to placeholder, got %s", order.Amount)
	}
	if order.MaxAmount != nil {
		t.Fatal("malformed amount should not produce a max")
	}
	if order.Price != "" {
		t.Fatalf("no price without an amount, got %s", order.Price)
	}
}

func TestNormalizeRobosatsLinkRewrite(t *testing.T) {
	ev := pendingEvent(
		[]string{"y", "robosats"},
		[]string{"source", "http://templeofsats.onion/order/42"},
	)

	order, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("robosats order should normalize")
	}
	if !strings.Contains(order.Link, "temple.onion") {
		t.Fatalf("coordinator label should be shortened: %s", order.Link)
	}

	// the rewrite only applies to robosats records
	other := pendingEvent(
		[]string{"y", "mostro"},
		[]string{"source", "http://templeofsats.onion/order/42"},
	)
	order, ok = Normalize(other, testTable())
	if !ok {
		t.Fatal("order should normalize")
	}
	if order.Link != "http://templeofsats.onion/order/42" {
		t.Fatalf("non-robosats link should pass through: %s", order.Link)
	}
}

func TestNormalizeMissingRateSkipsPrice(t *testing.T) {
	ev := pendingEvent([]string{"fa", "1000"})
	for i, tag := range ev.Tags {
		if tag[0] == "f" {
			ev.Tags[i] = []string{"f", "XYZ"}
		}
	}

	order, ok := Normalize(ev, testTable())
	if !ok {
		t.Fatal("order in an unknown currency should still normalize")
	}
	if order.Price != "" {
		t.Fatalf("no price without a rate, got %s", order.Price)
	}
}
