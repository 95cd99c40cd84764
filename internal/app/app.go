package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/alerting"
	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/config"
	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/rates"
	"p2p-market-watch/internal/scheduler"
	"p2p-market-watch/internal/service"
	"p2p-market-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPool() *nostr.Pool {
	return nostr.NewPool(a.Config.Relays.URLs, nostr.ClientOptions{
		DialTimeout:    a.Config.Relays.DialTimeout,
		PingInterval:   a.Config.Relays.PingInterval,
		ReconnectDelay: a.Config.Relays.ReconnectDelay,
	}, a.Logger)
}

func (a *App) newAggregator() *rates.Aggregator {
	feeds := []rates.Feed{
		rates.NewCoinGeckoFeed(rates.FeedOptions{
			URL:       a.Config.Rates.CoinGeckoURL,
			Timeout:   a.Config.Rates.RequestTimeout,
			UserAgent: a.Config.Rates.UserAgent,
		}, a.Logger),
		rates.NewYadioFeed(rates.FeedOptions{
			URL:       a.Config.Rates.YadioURL,
			Timeout:   a.Config.Rates.RequestTimeout,
			UserAgent: a.Config.Rates.UserAgent,
		}, a.Logger),
	}
	return rates.NewAggregator(feeds, a.Logger)
}

func (a *App) newReconciler() (*book.Reconciler, error) {
	policy, err := book.NewPolicy(
		a.Config.Admission.Mode,
		a.Config.Admission.AllowedPubkeys,
		a.Config.Admission.TrustedSources,
		decimal.NewFromFloat(a.Config.Admission.MaxAbsPremiumPct),
	)
	if err != nil {
		return nil, err
	}
	return book.NewReconciler(policy, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Run executes the long-running order watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		Immediate:    true,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	reconciler, err := a.newReconciler()
	if err != nil {
		return err
	}

	var archive storage.OrderArchive
	var samples storage.RateSampleStore
	if store != nil {
		archive = store
		samples = store
	}

	svc := service.New(a.Config, sched, a.newPool(), a.newAggregator(), reconciler, archive, samples, a.newNotifier(), a.Logger)

	a.Logger.Info().Int("relays", len(a.Config.Relays.URLs)).Msg("starting order watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("order watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived orders.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Currency string
	Side     string
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	Relays []string
	DryRun bool
}

// TrustOptions configure the trust command.
type TrustOptions struct {
	ViewerKey string
}

// SimulateOptions describe a synthetic order for the alert pipeline.
type SimulateOptions struct {
	Side       string
	Currency   string
	Amount     float64
	PremiumPct float64
}
