package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/alerting"
	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/config"
	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/rates"
)

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

type staticFeed struct {
	rates map[string]decimal.Decimal
}

func (staticFeed) Name() string { return "static" }

func (f staticFeed) Fetch(context.Context) (map[string]decimal.Decimal, error) {
	return f.rates, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Relays: config.RelayConfig{OrderKind: 38383, BacklogLimit: 500},
		Alerting: config.AlertingConfig{
			Enabled:           true,
			SellMaxPremiumPct: -1,
			BuyMinPremiumPct:  8,
			Cooldown:          time.Hour,
			Channels:          []string{"telegram"},
		},
	}
}

func testService(t *testing.T, notifier alerting.Notifier) *Service {
	t.Helper()

	aggregator := rates.NewAggregator([]rates.Feed{
		staticFeed{rates: map[string]decimal.Decimal{"USD": decimal.NewFromInt(100000)}},
	}, zerolog.Nop())
	if _, _, err := aggregator.Refresh(context.Background()); err != nil {
		t.Fatalf("seed rates: %v", err)
	}

	reconciler := book.NewReconciler(book.OpenPolicy{}, zerolog.Nop())
	return New(testConfig(), nil, nil, aggregator, reconciler, nil, nil, notifier, zerolog.Nop())
}

func sellOrder(id, logicalID, premium string) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    "pk-1",
		CreatedAt: time.Now().Unix(),
		Kind:      38383,
		Tags: [][]string{
			{"d", logicalID},
			{"s", book.StatusPending},
			{"k", book.SideSell},
			{"f", "USD"},
			{"fa", "1000"},
			{"premium", premium},
		},
	}
}

func TestAlertFiresOnSellBelowThreshold(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	svc.InjectRecord(context.Background(), sellOrder("ev-1", "order-1", "-3"))
	if notifier.count() != 1 {
		t.Fatalf("expected one alert, got %d", notifier.count())
	}
	if notifier.notes[0].Rule != "sell_max_premium" {
		t.Fatalf("wrong rule: %s", notifier.notes[0].Rule)
	}
}

func TestAlertSkipsSellAboveThreshold(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	svc.InjectRecord(context.Background(), sellOrder("ev-1", "order-1", "5"))
	if notifier.count() != 0 {
		t.Fatalf("no alert expected, got %d", notifier.count())
	}
}

func TestAlertFiresOnBuyAboveThreshold(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	ev := sellOrder("ev-1", "order-1", "10")
	for i, tag := range ev.Tags {
		if tag[0] == "k" {
			ev.Tags[i] = []string{"k", book.SideBuy}
		}
	}
	svc.InjectRecord(context.Background(), ev)
	if notifier.count() != 1 {
		t.Fatalf("expected one alert, got %d", notifier.count())
	}
	if notifier.notes[0].Rule != "buy_min_premium" {
		t.Fatalf("wrong rule: %s", notifier.notes[0].Rule)
	}
}

func TestAlertSkipsOrdersWithoutPremium(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	ev := sellOrder("ev-1", "order-1", "-3")
	tags := ev.Tags[:0]
	for _, tag := range ev.Tags {
		if tag[0] != "premium" {
			tags = append(tags, tag)
		}
	}
	ev.Tags = tags

	svc.InjectRecord(context.Background(), ev)
	if notifier.count() != 0 {
		t.Fatalf("no alert without a premium, got %d", notifier.count())
	}
}

func TestAlertCooldownSuppressesReplays(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	// same logical order replayed after a reconnect with a fresh event id
	first := sellOrder("ev-1", "order-1", "-3")
	expires := time.Now().Add(time.Hour).Unix()
	first.Tags = append(first.Tags, []string{"expiration", strconv.FormatInt(expires, 10)})

	svc.InjectRecord(context.Background(), first)
	if pruned := svc.reconciler.PruneExpired(expires + 1); pruned != 1 {
		t.Fatalf("expected to evict the order between replays, pruned %d", pruned)
	}
	svc.InjectRecord(context.Background(), sellOrder("ev-2", "order-1", "-3"))

	if notifier.count() != 1 {
		t.Fatalf("cooldown should suppress the replay, got %d alerts", notifier.count())
	}
}

func TestRedundantDeliveryDoesNotAlertTwice(t *testing.T) {
	notifier := &captureNotifier{}
	svc := testService(t, notifier)

	ev := sellOrder("ev-1", "order-1", "-3")
	svc.InjectRecord(context.Background(), ev)
	svc.InjectRecord(context.Background(), ev)

	if notifier.count() != 1 {
		t.Fatalf("redundant delivery should not alert again, got %d", notifier.count())
	}
}
