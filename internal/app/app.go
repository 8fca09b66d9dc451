package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/api"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/monitor"
	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
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

// newOracle builds the configured price fetcher once; it is passed by
// reference into everything that needs prices.
func (a *App) newOracle() oracle.PriceFetcher {
	cfg := a.Config.Oracle
	if cfg.Provider == "chainlink" {
		return oracle.NewChainlink(oracle.ChainlinkOptions{
			RPCURL: cfg.RPCURL,
			Feeds: map[oracle.Asset]string{
				oracle.AssetETH:   cfg.ETHFeed,
				oracle.AssetMATIC: cfg.MATICFeed,
				oracle.AssetBTC:   cfg.BTCFeed,
			},
			Timeout: cfg.RequestTimeout,
		}, a.Logger)
	}

	return oracle.NewMoralis(oracle.MoralisOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		Tokens: map[oracle.Asset]oracle.Token{
			oracle.AssetETH:   {Address: cfg.ETH.Address, ChainID: cfg.ETH.ChainID},
			oracle.AssetMATIC: {Address: cfg.MATIC.Address, ChainID: cfg.MATIC.ChainID},
			oracle.AssetBTC:   {Address: cfg.BTC.Address, ChainID: cfg.BTC.ChainID},
		},
	}, a.Logger)
}

func (a *App) newEmailNotifier() alerting.Notifier {
	if a.Config.SMTP.Host == "" {
		return nil
	}
	cfg := a.Config.SMTP
	return alerting.NewEmailNotifier(alerting.EmailOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	}, a.Logger)
}

func (a *App) newOpsNotifier() alerting.Notifier {
	if !a.Config.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service plus the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and alert matching disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	fetcher := a.newOracle()
	email := a.newEmailNotifier()
	ops := a.newOpsNotifier()
	if email == nil {
		a.Logger.Warn().Msg("smtp.host not configured; email alerting disabled")
	}

	detector := monitor.NewChangeDetector(
		sampleStore, email, ops,
		a.Config.Monitor.SwingRecipient,
		a.Config.Monitor.ChangeThresholdPct,
		a.Config.Monitor.ChangeLookback,
		a.Logger,
	)
	matcher := monitor.NewAlertMatcher(alertStore, email, a.Config.Monitor.AlertTolerancePct, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := monitor.New(sched, fetcher, sampleStore, detector, matcher, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info().Msg("starting monitoring service")
		return svc.Run(groupCtx)
	})

	if a.Config.API.Enabled && store != nil {
		server := api.NewServer(api.Options{
			ListenAddr:      a.Config.API.ListenAddr,
			ReadTimeout:     a.Config.API.ReadTimeout,
			WriteTimeout:    a.Config.API.WriteTimeout,
			ShutdownTimeout: a.Config.API.ShutdownTimeout,
			HourlyWindow:    a.Config.Monitor.HourlyWindow,
		}, sampleStore, alertStore, fetcher, a.Logger)
		group.Go(func() error {
			return server.Start(groupCtx)
		})
	} else if a.Config.API.Enabled {
		a.Logger.Warn().Msg("api disabled because no database is configured")
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
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
	Limit int
}

// PurgeOptions configure the retention job.
type PurgeOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
