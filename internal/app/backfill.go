package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/storage"
)

// Backfill replays historical order records from the relays into the
// archive. Records of every status are fetched so that supersessions
// that happened inside the window are applied, then replayed in
// created_at order to make the outcome independent of relay ordering.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if !opts.From.Before(opts.To) {
		return errors.New("backfill window is empty, check --from/--to")
	}

	var store *storage.Store
	var archive storage.OrderArchive
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		archive = store
	}

	aggregator := a.newAggregator()
	if _, _, err := aggregator.Refresh(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("rate refresh failed; backfilled orders will carry no derived price")
	}
	table := aggregator.Table()

	reconciler, err := a.newReconciler()
	if err != nil {
		return err
	}

	filter := nostr.Filter{
		Kinds: []int{a.Config.Relays.OrderKind},
		Since: opts.From.UTC().Unix(),
		Until: opts.To.UTC().Unix(),
		Limit: a.Config.Relays.BacklogLimit,
	}

	pool := a.newPool()
	events := pool.QueryRelays(ctx, opts.Relays, filter)
	if len(events) == 0 {
		a.Logger.Info().Msg("no records found in backfill window")
		return nil
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})

	added := 0
	closed := 0
	for _, ev := range events {
		result := reconciler.Apply(ev, table)
		switch {
		case result.Added:
			added++
			if archive != nil {
				seen := time.Unix(result.Order.CreatedAt, 0).UTC()
				if err := archive.UpsertOrderEvent(ctx, storage.FromOrder(result.Order, seen)); err != nil {
					a.Logger.Error().Err(err).Str("order", result.LogicalID).Msg("failed to archive backfilled order")
				}
			}
		case result.Removed:
			closed++
			if archive != nil {
				seen := time.Unix(ev.CreatedAt, 0).UTC()
				if err := archive.MarkOrderClosed(ctx, result.LogicalID, seen); err != nil {
					a.Logger.Error().Err(err).Str("order", result.LogicalID).Msg("failed to close backfilled order")
				}
			}
		}
	}

	a.Logger.Info().
		Int("records", len(events)).
		Int("added", added).
		Int("closed", closed).
		Msg("backfill complete")
	return nil
}
