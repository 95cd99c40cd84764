package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/alerting"
	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/config"
	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/rates"
	"p2p-market-watch/internal/scheduler"
	"p2p-market-watch/internal/storage"
)

// Service orchestrates relay ingestion, rate refreshes, persistence, and
// alerting. The relay stream and the refresh loop run concurrently; the
// reconciler and the rate aggregator each guard their own state.
type Service struct {
	scheduler  *scheduler.Scheduler
	pool       *nostr.Pool
	rates      *rates.Aggregator
	reconciler *book.Reconciler
	archive    storage.OrderArchive
	samples    storage.RateSampleStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	orderKind    int
	backlogLimit int

	alertsOn   bool
	sellMaxPct decimal.Decimal
	buyMinPct  decimal.Decimal
	channels   []string
	cooldown   time.Duration

	locker  storage.AdvisoryLocker
	lockKey int64

	alertMu   sync.Mutex
	lastAlert map[string]time.Time
}

// New constructs the watcher service.
func New(cfg *config.Config, sched *scheduler.Scheduler, pool *nostr.Pool, aggregator *rates.Aggregator, reconciler *book.Reconciler, archive storage.OrderArchive, samples storage.RateSampleStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		pool:         pool,
		rates:        aggregator,
		reconciler:   reconciler,
		archive:      archive,
		samples:      samples,
		notifier:     notifier,
		logger:       logger.With().Str("component", "service").Logger(),
		orderKind:    cfg.Relays.OrderKind,
		backlogLimit: cfg.Relays.BacklogLimit,
		alertsOn:     cfg.Alerting.Enabled,
		sellMaxPct:   decimal.NewFromFloat(cfg.Alerting.SellMaxPremiumPct),
		buyMinPct:    decimal.NewFromFloat(cfg.Alerting.BuyMinPremiumPct),
		channels:     cfg.Alerting.Channels,
		cooldown:     cfg.Alerting.Cooldown,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		lastAlert:    make(map[string]time.Time),
	}
}

// OrderFilter is the long-lived subscription filter: pending orders of the
// configured kind, with a backlog limit per relay.
func (s *Service) OrderFilter() nostr.Filter {
	return nostr.Filter{
		Kinds: []int{s.orderKind},
		Tags:  map[string][]string{"s": {book.StatusPending}},
		Limit: s.backlogLimit,
	}
}

// Run blocks until ctx is cancelled. It starts the relay subscription,
// then drives the rate refresh loop in the foreground.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.pool == nil {
		return fmt.Errorf("relay pool not configured")
	}

	events := s.pool.Subscribe(ctx, s.OrderFilter())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consume(ctx, events)
	}()

	err := s.scheduler.Run(ctx, s.ProcessBucket)
	wg.Wait()
	return err
}

// consume drains the merged relay stream into the reconciler. Every record
// is processed in isolation; one malformed record never stalls the stream.
func (s *Service) consume(ctx context.Context, events <-chan nostr.Event) {
	for ev := range events {
		s.handleEvent(ctx, ev)
	}
	s.logger.Info().Msg("relay stream closed")
}

// InjectRecord feeds one record through the ingestion path outside the
// relay stream. Used by the simulate command.
func (s *Service) InjectRecord(ctx context.Context, ev nostr.Event) {
	s.handleEvent(ctx, ev)
}

func (s *Service) handleEvent(ctx context.Context, ev nostr.Event) {
	result := s.reconciler.Apply(ev, s.rates.Table())
	seen := time.Now().UTC()

	switch {
	case result.Added:
		s.logger.Debug().
			Str("order", result.LogicalID).
			Str("side", result.Order.Side).
			Str("source", result.Order.Source).
			Msg("order admitted")

		if s.archive != nil {
			if err := s.archive.UpsertOrderEvent(ctx, storage.FromOrder(result.Order, seen)); err != nil {
				s.logger.Error().Err(err).Str("order", result.LogicalID).Msg("failed to archive order")
			}
		}
		s.maybeAlert(ctx, result.Order, seen)

	case result.Removed:
		if s.archive != nil {
			if err := s.archive.MarkOrderClosed(ctx, result.LogicalID, seen); err != nil {
				s.logger.Error().Err(err).Str("order", result.LogicalID).Msg("failed to close archived order")
			}
		}
	}
}

// ProcessBucket refreshes the rate table and persists the observation.
// Failed refreshes are archived too so gaps in the sample series are
// distinguishable from scheduler downtime.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	table, sources, refreshErr := s.rates.Refresh(ctx)

	sample := storage.RateSample{
		Bucket:      bucket,
		Rates:       table,
		SourceCount: sources,
		Status:      "complete",
		CreatedAt:   time.Now().UTC(),
	}
	if refreshErr != nil {
		msg := refreshErr.Error()
		sample.Status = "errored"
		sample.Error = &msg
		sample.Rates = nil
	}

	if s.samples != nil {
		if err := s.samples.UpsertRateSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert rate sample")
		}
	}

	if pruned := s.reconciler.PruneExpired(time.Now().Unix()); pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("expired orders pruned")
	}

	if refreshErr != nil {
		if errors.Is(refreshErr, rates.ErrAllFeedsFailed) {
			s.logger.Warn().Time("bucket", bucket).Msg("all rate feeds failed, retaining previous table")
			return nil
		}
		return fmt.Errorf("refresh rates: %w", refreshErr)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("sources", sources).
		Int("currencies", len(table)).
		Int("live_orders", s.reconciler.Len()).
		Msg("rate refresh complete")
	return nil
}

// maybeAlert dispatches a deal alert when a freshly admitted order crosses
// a configured premium threshold. A per-order cooldown suppresses repeats
// when relays replay the same logical order after reconnects.
func (s *Service) maybeAlert(ctx context.Context, order book.Order, seen time.Time) {
	if !s.alertsOn || s.notifier == nil || order.Premium == nil {
		return
	}

	var rule string
	switch {
	case order.Side == book.SideSell && !s.sellMaxPct.IsZero() && order.Premium.LessThanOrEqual(s.sellMaxPct):
		rule = "sell_max_premium"
	case order.Side == book.SideBuy && !s.buyMinPct.IsZero() && order.Premium.GreaterThanOrEqual(s.buyMinPct):
		rule = "buy_min_premium"
	default:
		return
	}

	if !s.shouldAlert(order.LogicalID, seen) {
		return
	}

	threshold := s.sellMaxPct
	if rule == "buy_min_premium" {
		threshold = s.buyMinPct
	}

	note := alerting.Notification{
		Order:     order,
		Rule:      rule,
		Threshold: threshold,
		Channels:  s.channels,
		SeenAt:    seen,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("order", order.LogicalID).Msg("failed to dispatch alert")
	}
}

func (s *Service) shouldAlert(logicalID string, seen time.Time) bool {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	if last, ok := s.lastAlert[logicalID]; ok && s.cooldown > 0 && seen.Sub(last) < s.cooldown {
		return false
	}
	s.lastAlert[logicalID] = seen
	return true
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
