package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"etf-guardian/internal/fetcher"
	"etf-guardian/internal/service"
)

// SimulateAlert runs one full cycle for a single asset with a fixed price,
// exercising the real decision engines and notification channels against the
// live database.
func (a *App) SimulateAlert(ctx context.Context, symbol string, price decimal.Decimal) error {
	if !a.Config.Notify.Enabled {
		return errors.New("notifications are disabled; enable notify.enabled first")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot simulate")
	}
	defer closeStore()

	notifier := a.newNotifier(store)
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	static := &staticPriceFetcher{price: price}
	svc := service.New(a.Config, nil, static, store, store, store, store, notifier, a.Logger)

	a.Logger.Info().
		Str("symbol", symbol).
		Str("price", price.String()).
		Msg("simulating monitoring cycle")

	return svc.ProcessSymbol(ctx, symbol, time.Now().UTC())
}

type staticPriceFetcher struct {
	price decimal.Decimal
}

func (s *staticPriceFetcher) FetchPrice(ctx context.Context, inst fetcher.Instrument) (fetcher.Quote, error) {
	return fetcher.Quote{Price: s.price, AsOf: time.Now().UTC()}, nil
}

var _ fetcher.PriceFetcher = (*staticPriceFetcher)(nil)
