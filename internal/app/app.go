package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sbfeed/internal/alerting"
	"sbfeed/internal/cache"
	"sbfeed/internal/config"
	"sbfeed/internal/fetcher"
	"sbfeed/internal/metrics"
	"sbfeed/internal/scheduler"
	"sbfeed/internal/service"
	"sbfeed/internal/storage"
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

func (a *App) newFeedFetcher() *fetcher.Solana {
	return fetcher.NewSolana(fetcher.SolanaOptions{
		RPCURL:     a.Config.Solana.RPCURL,
		Aggregator: a.Config.Solana.Aggregator,
		ProgramID:  a.Config.Solana.ProgramID,
		Commitment: a.Config.Solana.Commitment,
		Timeout:    a.Config.Solana.RequestTimeout,
	}, a.Logger)
}

func (a *App) newReferenceFetcher() fetcher.ReferenceFetcher {
	if !a.Config.Reference.Enabled {
		return nil
	}
	return fetcher.NewReference(fetcher.ReferenceOptions{
		RPCURL:      a.Config.Reference.RPCURL,
		FeedAddress: a.Config.Reference.FeedAddress,
		Timeout:     a.Config.Reference.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.MultiNotifier{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if n, err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath); err != nil {
		pool.Close()
		return nil, nil, err
	} else if n > 0 {
		a.Logger.Debug().Int("files", n).Msg("migrations applied")
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (*cache.Redis, error) {
	if a.Config.Cache.Addr == "" {
		return nil, nil
	}
	return cache.New(ctx, a.Config.Cache)
}

// Run executes the long-running sampling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Solana.Aggregator == "" {
		return errors.New("solana.aggregator must be configured")
	}

	deps := service.Dependencies{
		Feed:      a.newFeedFetcher(),
		Reference: a.newReferenceFetcher(),
		Notifier:  a.newNotifier(),
		Metrics:   metrics.New(),
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		defer closeStore()
		deps.Samples = store
		deps.Alerts = store
	}

	priceCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if priceCache == nil {
		a.Logger.Info().Msg("cache.addr not configured; latest price cache disabled")
	} else {
		defer priceCache.Close()
		deps.Cache = priceCache
	}

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := deps.Metrics.Serve(ctx, addr, a.Config.Metrics.Path, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}
	deps.Scheduler = sched

	svc := service.New(a.Config, deps, a.Logger)

	a.Logger.Info().
		Str("aggregator", a.Config.Solana.Aggregator).
		Str("environment", a.Config.App.Environment).
		Msg("starting sampling service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sampling service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// InspectOptions configure the inspect command.
type InspectOptions struct {
	// File decodes a local account dump instead of fetching over RPC.
	File string
	// DumpPath writes the raw account bytes fetched over RPC.
	DumpPath string
	// NowSlot overrides the slot used for the staleness check of a file.
	NowSlot uint64
}

// PruneOptions configure the prune command.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
