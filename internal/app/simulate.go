package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/service"
)

// SimulateAlert pushes a synthetic order through the real ingestion and
// alert path so channel wiring can be verified without waiting for a
// matching live order.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	if opts.Side != book.SideBuy && opts.Side != book.SideSell {
		return fmt.Errorf("side must be %q or %q", book.SideBuy, book.SideSell)
	}
	if opts.Amount <= 0 {
		return errors.New("--amount must be greater than zero")
	}

	aggregator := a.newAggregator()
	if _, _, err := aggregator.Refresh(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("rate refresh failed; simulated order will carry no derived price")
	}

	// the synthetic order bypasses the configured admission policy
	reconciler := book.NewReconciler(book.OpenPolicy{}, a.Logger)

	svc := service.New(a.Config, nil, nil, aggregator, reconciler, nil, nil, notifier, a.Logger)
	svc.InjectRecord(ctx, syntheticOrder(opts))
	return nil
}

func syntheticOrder(opts SimulateOptions) nostr.Event {
	now := time.Now().UTC()
	id := fmt.Sprintf("sim-%d", now.UnixNano())
	return nostr.Event{
		ID:        id,
		PubKey:    "simulated",
		CreatedAt: now.Unix(),
		Kind:      38383,
		Tags: [][]string{
			{"d", id},
			{"s", book.StatusPending},
			{"k", opts.Side},
			{"f", opts.Currency},
			{"fa", strconv.FormatFloat(opts.Amount, 'f', -1, 64)},
			{"premium", strconv.FormatFloat(opts.PremiumPct, 'f', -1, 64)},
			{"y", "simulated"},
			{"pm", "simulated"},
		},
	}
}
