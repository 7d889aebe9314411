package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"etf-guardian/internal/drawdown"
	"etf-guardian/internal/storage"
)

// Export renders one symbol's price and drawdown history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	rec, err := store.GetPeak(ctx, opts.Symbol)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().
		Str("symbol", opts.Symbol).
		Int("total", len(samples)).
		Int("exported", len(downsampled)).
		Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled, rec); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled, rec); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.PriceSample, max int) []storage.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.PriceSample, rec storage.PeakRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "symbol", "price", "change", "change_pct", "peak", "drawdown_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		dd := drawdown.Drawdown(sample.Price, rec.PeakPrice)
		record := []string{
			sample.ObservedAt.Format(time.RFC3339),
			sample.Symbol,
			sample.Price.String(),
			sample.Change.String(),
			sample.ChangePct.String(),
			rec.PeakPrice.String(),
			dd.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.PriceSample, rec storage.PeakRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	prices := make([]float64, len(samples))
	drawdowns := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.ObservedAt
		prices[i] = sample.Price.InexactFloat64()
		drawdowns[i] = drawdown.Drawdown(sample.Price, rec.PeakPrice).InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Drawdown (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    rec.Symbol,
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Drawdown %",
				XValues: x,
				YValues: drawdowns,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
