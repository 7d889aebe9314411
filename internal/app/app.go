package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"etf-guardian/internal/config"
	"etf-guardian/internal/fetcher"
	"etf-guardian/internal/notify"
	"etf-guardian/internal/scheduler"
	"etf-guardian/internal/service"
	"etf-guardian/internal/storage"
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

func (a *App) newRouter() *fetcher.Router {
	yahoo := fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   a.Config.Market.Yahoo.BaseURL,
		Timeout:   a.Config.Market.Yahoo.RequestTimeout,
		UserAgent: a.Config.Market.Yahoo.UserAgent,
	}, a.Logger)

	coingecko := fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL: a.Config.Market.CoinGecko.BaseURL,
		Timeout: a.Config.Market.CoinGecko.RequestTimeout,
	}, a.Logger)

	var chainlink fetcher.PriceFetcher
	if a.Config.Market.Chainlink.RPCURL != "" {
		chainlink = fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  a.Config.Market.Chainlink.RPCURL,
			Timeout: a.Config.Market.Chainlink.RequestTimeout,
		}, a.Logger)
	}

	return fetcher.NewRouter(yahoo, coingecko, chainlink)
}

func (a *App) newNotifier(devices storage.DeviceRegistry) notify.Notifier {
	channels := make([]notify.Notifier, 0, 2)

	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		channels = append(channels, notify.NewTelegram(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Notify.Expo.Enabled && devices != nil {
		cfg := a.Config.Notify.Expo
		channels = append(channels, notify.NewExpoPush(cfg.PushURL, devices, cfg.RequestTimeout, a.Logger))
	}

	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}
	return notify.NewMulti(a.Logger, channels...)
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

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	notifier := a.newNotifier(store)
	router := a.newRouter()
	return service.New(a.Config, sched, router, store, store, store, store, notifier, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the monitor needs persistent state")
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		CronSpec:      a.Config.Scheduler.CronSpec,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Once runs a single monitoring cycle and exits.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the monitor needs persistent state")
	}
	defer closeStore()

	svc := a.newService(store, nil)
	return svc.ProcessCycle(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
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
