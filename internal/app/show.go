package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the recent monitoring state: assets with their peaks, the
// latest price samples, the alert log tail, and open investment levels.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show state")
	}
	defer closeStore()

	assets, err := store.ListAssets(ctx)
	if err != nil {
		return err
	}
	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	levels, err := store.ListOpenLevels(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "== Assets ==")
	fmt.Fprintln(writer, "Symbol\tClass\tPeak\tPeak At (UTC)\tThreshold%\tActive")
	for _, rec := range assets {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%t\n",
			rec.Symbol,
			rec.Class,
			formatDecimal(rec.PeakPrice, 4),
			rec.PeakAt.UTC().Format(time.RFC3339),
			formatDecimal(rec.ThresholdPct, 0),
			rec.Active,
		)
	}

	fmt.Fprintln(writer, "\n== Recent Samples ==")
	if len(samples) == 0 {
		fmt.Fprintln(writer, "no samples found")
	} else {
		fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tChange%")
		for _, sample := range samples {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				sample.ObservedAt.UTC().Format(time.RFC3339),
				sample.Symbol,
				formatDecimal(sample.Price, 4),
				formatDecimal(sample.ChangePct, 2),
			)
		}
	}

	fmt.Fprintln(writer, "\n== Recent Alerts ==")
	if len(alerts) == 0 {
		fmt.Fprintln(writer, "no alerts recorded")
	} else {
		fmt.Fprintln(writer, "Time (UTC)\tSymbol\tKind\tDrawdown%\tPrice\tPeak\tSent")
		for _, alert := range alerts {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				alert.CreatedAt.UTC().Format(time.RFC3339),
				alert.Symbol,
				alert.Kind,
				formatDecimal(alert.Drawdown, 2),
				formatDecimal(alert.Price, 4),
				formatDecimal(alert.PeakPrice, 4),
				alert.NotificationSent,
			)
		}
	}

	fmt.Fprintln(writer, "\n== Open Investment Levels ==")
	if len(levels) == 0 {
		fmt.Fprintln(writer, "no open levels")
	} else {
		fmt.Fprintln(writer, "Symbol\tLevel%\tBuffer%\tPeak\tSince (UTC)")
		for _, level := range levels {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
				level.Symbol,
				formatDecimal(level.Level, 0),
				formatDecimal(level.Percentage, 0),
				formatDecimal(level.PeakPrice, 4),
				level.CreatedAt.UTC().Format(time.RFC3339),
			)
		}
	}

	return writer.Flush()
}

// MarkLevelUsed flags an investment level as acted on, against the asset's
// current peak.
func (a *App) MarkLevelUsed(ctx context.Context, symbol string, level decimal.Decimal) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot mark levels")
	}
	defer closeStore()

	rec, err := store.GetPeak(ctx, symbol)
	if err != nil {
		return err
	}
	if err := store.MarkLevelUsed(ctx, symbol, level, rec.PeakPrice); err != nil {
		return fmt.Errorf("mark level %s for %s: %w", level, symbol, err)
	}

	a.Logger.Info().
		Str("symbol", symbol).
		Str("level", level.String()).
		Str("peak", rec.PeakPrice.String()).
		Msg("level marked as used")
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
