package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"p2p-market-watch/internal/rates"
)

var printer = message.NewPrinter(language.English)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Derive computes the fiat price per BTC that an order's premium implies,
// formatted as e.g. "110,000 USD/BTC". It reports false when the amount
// is zero, the currency is empty, or the table has no rate for it. A nil
// premium means no offset. This is a display rate, not a converted
// amount.
func Derive(amount decimal.Decimal, code string, premium *decimal.Decimal, table rates.Table) (string, bool) {
	if amount.IsZero() || code == "" {
		return "", false
	}

	rate, ok := table.Rate(code)
	if !ok {
		return "", false
	}

	final := rate
	if premium != nil {
		final = rate.Mul(one.Add(premium.Div(hundred)))
	}

	return printer.Sprintf("%d %s/BTC", final.Round(0).IntPart(), strings.ToUpper(code)), true
}
