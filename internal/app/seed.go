package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"etf-guardian/internal/fetcher"
	"etf-guardian/internal/storage"
)

// Seed provisions peak records for every configured asset that does not have
// one yet. The current market price becomes both the start and initial peak.
// Existing records are never touched.
func (a *App) Seed(ctx context.Context) error {
	if len(a.Config.Assets) == 0 {
		return errors.New("no assets configured; nothing to seed")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot seed")
	}
	defer closeStore()

	router := a.newRouter()

	provisioned := 0
	failed := 0
	for _, asset := range a.Config.Assets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		inst := fetcher.Instrument{
			Symbol: asset.Symbol,
			Class:  asset.Class,
			Source: asset.Source,
			Ticker: asset.Ticker,
			CoinID: asset.CoinID,
			Feed:   asset.Feed,
		}
		quote, err := router.FetchPrice(ctx, inst)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("seed fetch failed")
			continue
		}

		threshold := a.Config.Monitor.DefaultThresholdPct
		if asset.ThresholdPct > 0 {
			threshold = asset.ThresholdPct
		}

		now := time.Now().UTC()
		rec := storage.PeakRecord{
			Symbol:       asset.Symbol,
			Name:         asset.Name,
			Class:        asset.Class,
			StartPrice:   quote.Price,
			StartAt:      now,
			PeakPrice:    quote.Price,
			PeakAt:       now,
			ThresholdPct: decimal.NewFromFloat(threshold),
			Active:       true,
		}
		if err := store.ProvisionAsset(ctx, rec); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", asset.Symbol).Msg("seed provisioning failed")
			continue
		}

		provisioned++
		a.Logger.Info().
			Str("symbol", asset.Symbol).
			Str("price", quote.Price.String()).
			Msg("asset provisioned")
	}

	a.Logger.Info().Int("provisioned", provisioned).Int("failed", failed).Msg("seed complete")
	if failed > 0 {
		return errors.New("some assets failed to seed; check the logs")
	}
	return nil
}
