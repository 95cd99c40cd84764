package book

import "github.com/shopspring/decimal"

// Sides an order record may declare.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// StatusPending marks an order still open for taking. Any other status
// value signals the order is done with and must leave the live book.
const StatusPending = "pending"

// Order is the normalized, display-ready projection of one pending order
// record. Amounts, premiums and bonds are self-reported and
// unauthenticated beyond the publishing key.
type Order struct {
	ID             string // per-record event id
	LogicalID      string // stable across the order's lifetime ("d" tag)
	PubKey         string
	Side           string
	Source         string
	Currency       string
	Amount         string           // display form; "-" when absent or malformed
	MaxAmount      *decimal.Decimal // drives pricing and depth math; range max
	Premium        *decimal.Decimal // signed percent offset from market rate
	Bond           *decimal.Decimal
	PaymentMethods string
	Link           string
	Price          string // premium-implied fiat/BTC rate; "" when unknown
	CreatedAt      int64  // unix seconds
	ExpiresAt      int64  // unix seconds; 0 when the record carries none
}
