package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/book"
)

// Order archive statuses.
const (
	OrderStatusOpen   = "open"
	OrderStatusClosed = "closed"
)

// OrderEvent is one archived order observation, keyed by its logical
// identifier. The archive is additive history only; the live book never
// reads from it.
type OrderEvent struct {
	LogicalID      string
	EventID        string
	PubKey         string
	Side           string
	Currency       string
	Amount         *decimal.Decimal
	Premium        *decimal.Decimal
	Bond           *decimal.Decimal
	PaymentMethods string
	Source         string
	Link           string
	Status         string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	FirstSeen      time.Time
	LastSeen       time.Time
}

// FromOrder projects a live order into its archive row.
func FromOrder(order book.Order, seen time.Time) OrderEvent {
	row := OrderEvent{
		LogicalID:      order.LogicalID,
		EventID:        order.ID,
		PubKey:         order.PubKey,
		Side:           order.Side,
		Currency:       order.Currency,
		Amount:         order.MaxAmount,
		Premium:        order.Premium,
		Bond:           order.Bond,
		PaymentMethods: order.PaymentMethods,
		Source:         order.Source,
		Link:           order.Link,
		Status:         OrderStatusOpen,
		CreatedAt:      time.Unix(order.CreatedAt, 0).UTC(),
		FirstSeen:      seen.UTC(),
		LastSeen:       seen.UTC(),
	}
	if order.ExpiresAt > 0 {
		expires := time.Unix(order.ExpiresAt, 0).UTC()
		row.ExpiresAt = &expires
	}
	return row
}

// ToOrder rebuilds the subset of a live order that offline consumers
// (depth export) need from an archive row.
func (e OrderEvent) ToOrder() book.Order {
	order := book.Order{
		ID:             e.EventID,
		LogicalID:      e.LogicalID,
		PubKey:         e.PubKey,
		Side:           e.Side,
		Currency:       e.Currency,
		MaxAmount:      e.Amount,
		Premium:        e.Premium,
		Bond:           e.Bond,
		PaymentMethods: e.PaymentMethods,
		Source:         e.Source,
		Link:           e.Link,
		CreatedAt:      e.CreatedAt.Unix(),
	}
	if e.ExpiresAt != nil {
		order.ExpiresAt = e.ExpiresAt.Unix()
	}
	return order
}

// RateSample is one persisted rate refresh observation.
type RateSample struct {
	Bucket      time.Time
	Rates       map[string]decimal.Decimal
	SourceCount int
	Status      string
	Error       *string
	CreatedAt   time.Time
}
