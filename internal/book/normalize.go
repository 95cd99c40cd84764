package book

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/pricing"
	"p2p-market-watch/internal/rates"
)

// currencyAliases maps informal currency tokens onto ISO codes. Lookup
// happens after uppercasing; unresolved tokens pass through as-is.
var currencyAliases = map[string]string{
	"USDT":     "USD",
	"USDC":     "USD",
	"US$":      "USD",
	"BUSD":     "USD",
	"DOLLAR":   "USD",
	"DOLLARS":  "USD",
	"€":        "EUR",
	"EURO":     "EUR",
	"EUROS":    "EUR",
	"£":        "GBP",
	"POUND":    "GBP",
	"POUNDS":   "GBP",
	"STERLING": "GBP",
	"¥":        "JPY",
	"YEN":      "JPY",
}

// coordinatorAliases shortens known robosats coordinator labels inside
// .onion links. Cosmetic substitution only; scheme and path survive.
var coordinatorAliases = map[string]string{
	"over the moon": "moon",
	"bitcoinveneto": "veneto",
	"thebiglake":    "lake",
	"templeofsats":  "temple",
}

const robosatsSource = "robosats"

var amountPrinter = message.NewPrinter(language.English)

// Normalize converts one raw record into an Order. It rejects records
// that are no longer pending or already expired at evaluation time, and
// degrades malformed numeric fields to placeholders instead of failing.
// A fault while processing one record never propagates past it.
func Normalize(ev nostr.Event, table rates.Table) (order Order, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			order, ok = Order{}, false
		}
	}()

	if status, present := ev.TagValue("s"); present && status != StatusPending {
		return Order{}, false
	}

	if raw, present := ev.TagValue("expiration"); present {
		if exp, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			if exp < time.Now().Unix() {
				return Order{}, false
			}
			order.ExpiresAt = exp
		}
	}

	order.ID = ev.ID
	order.PubKey = ev.PubKey
	order.CreatedAt = ev.CreatedAt
	order.LogicalID, _ = ev.TagValue("d")
	order.Source = tagOr(ev, "y", "-")
	order.Side = tagOr(ev, "k", "-")

	rawCurrency, _ := ev.TagValue("f")
	order.Currency = normalizeCurrency(rawCurrency)

	order.Amount = "-"
	if tag := ev.Tag("fa"); len(tag) == 2 {
		if v, err := decimal.NewFromString(strings.TrimSpace(tag[1])); err == nil {
			order.Amount = formatAmount(v)
			order.MaxAmount = &v
		}
	} else if len(tag) >= 3 {
		// ranged amount; the maximum drives all downstream math
		min, errMin := decimal.NewFromString(strings.TrimSpace(tag[len(tag)-2]))
		max, errMax := decimal.NewFromString(strings.TrimSpace(tag[len(tag)-1]))
		if errMin == nil && errMax == nil {
			order.Amount = formatAmount(min) + " - " + formatAmount(max)
			order.MaxAmount = &max
		}
	}

	order.Premium = decimalTag(ev, "premium")
	order.Bond = decimalTag(ev, "bond")

	if pm := ev.Tag("pm"); len(pm) > 1 {
		order.PaymentMethods = strings.Join(pm[1:], " ")
	} else {
		order.PaymentMethods = "-"
	}

	link := tagOr(ev, "source", "-")
	if order.Source == robosatsSource && link != "-" {
		link = rewriteLink(link)
	}
	order.Link = link

	if order.MaxAmount != nil {
		if price, derived := pricing.Derive(*order.MaxAmount, order.Currency, order.Premium, table); derived {
			order.Price = price
		}
	}

	return order, true
}

func normalizeCurrency(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "USD"
	}
	if alias, found := currencyAliases[code]; found {
		return alias
	}
	return code
}

// formatAmount renders a fiat amount floored to whole units with locale
// thousands separators.
func formatAmount(v decimal.Decimal) string {
	return amountPrinter.Sprintf("%d", v.Floor().IntPart())
}

func rewriteLink(link string) string {
	for name, alias := range coordinatorAliases {
		link = strings.ReplaceAll(link, name, alias)
	}
	return link
}

func tagOr(ev nostr.Event, label, fallback string) string {
	if value, present := ev.TagValue(label); present && value != "" {
		return value
	}
	return fallback
}

func decimalTag(ev nostr.Event, label string) *decimal.Decimal {
	raw, present := ev.TagValue(label)
	if !present {
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}
