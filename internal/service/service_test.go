package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"etf-guardian/internal/config"
	"etf-guardian/internal/drawdown"
	"etf-guardian/internal/fetcher"
	"etf-guardian/internal/notify"
	"etf-guardian/internal/storage"
)

type fakeStore struct {
	assets  []storage.PeakRecord
	samples []storage.PriceSample
	alerts  []storage.AlertRecord
	levels  []storage.LevelRecord
}

func (f *fakeStore) GetPeak(ctx context.Context, symbol string) (storage.PeakRecord, error) {
	for _, rec := range f.assets {
		if rec.Symbol == symbol {
			return rec, nil
		}
	}
	return storage.PeakRecord{}, fmt.Errorf("%w: %s", storage.ErrUnknownAsset, symbol)
}

func (f *fakeStore) RecordObservation(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) (storage.PeakRecord, bool, error) {
	for i := range f.assets {
		if f.assets[i].Symbol != symbol {
			continue
		}
		if price.GreaterThan(f.assets[i].PeakPrice) {
			f.assets[i].PeakPrice = price
			f.assets[i].PeakAt = observedAt
			return f.assets[i], true, nil
		}
		return f.assets[i], false, nil
	}
	return storage.PeakRecord{}, false, fmt.Errorf("%w: %s", storage.ErrUnknownAsset, symbol)
}

func (f *fakeStore) ProvisionAsset(ctx context.Context, rec storage.PeakRecord) error {
	f.assets = append(f.assets, rec)
	return nil
}

func (f *fakeStore) ListAssets(ctx context.Context) ([]storage.PeakRecord, error) {
	return append([]storage.PeakRecord(nil), f.assets...), nil
}

func (f *fakeStore) UpsertPriceSample(ctx context.Context, sample storage.PriceSample) error {
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeStore) ListRecentSamples(ctx context.Context, limit int) ([]storage.PriceSample, error) {
	return f.samples, nil
}

func (f *fakeStore) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.PriceSample, error) {
	return f.samples, nil
}

func (f *fakeStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	alert.CreatedAt = time.Now().UTC()
	f.alerts = append(f.alerts, alert)
	return alert, nil
}

func (f *fakeStore) LatestAlert(ctx context.Context, symbol string) (*storage.AlertRecord, error) {
	for i := len(f.alerts) - 1; i >= 0; i-- {
		if f.alerts[i].Symbol == symbol {
			rec := f.alerts[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return f.alerts, nil
}

func (f *fakeStore) ListLevelStates(ctx context.Context, symbol string, peak decimal.Decimal) ([]storage.LevelRecord, error) {
	out := make([]storage.LevelRecord, 0)
	for _, rec := range f.levels {
		if rec.Symbol == symbol && rec.PeakPrice.Equal(peak) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateLevelState(ctx context.Context, rec storage.LevelRecord) error {
	for _, existing := range f.levels {
		if existing.Symbol == rec.Symbol && existing.Level.Equal(rec.Level) && existing.PeakPrice.Equal(rec.PeakPrice) {
			return nil
		}
	}
	rec.CreatedAt = time.Now().UTC()
	f.levels = append(f.levels, rec)
	return nil
}

func (f *fakeStore) MarkLevelUsed(ctx context.Context, symbol string, level, peak decimal.Decimal) error {
	for i := range f.levels {
		if f.levels[i].Symbol == symbol && f.levels[i].Level.Equal(level) && f.levels[i].PeakPrice.Equal(peak) {
			f.levels[i].Used = true
			return nil
		}
	}
	return errors.New("level not found")
}

func (f *fakeStore) ListOpenLevels(ctx context.Context, limit int) ([]storage.LevelRecord, error) {
	return f.levels, nil
}

type fakeFetcher struct {
	prices   map[string]decimal.Decimal
	errs     map[string]error
	currency string
	calls    []string
}

func (f *fakeFetcher) FetchPrice(ctx context.Context, inst fetcher.Instrument) (fetcher.Quote, error) {
	f.calls = append(f.calls, inst.Symbol)
	if err, ok := f.errs[inst.Symbol]; ok {
		return fetcher.Quote{}, err
	}
	price, ok := f.prices[inst.Symbol]
	if !ok {
		return fetcher.Quote{}, fmt.Errorf("no price for %s", inst.Symbol)
	}
	return fetcher.Quote{Price: price, Currency: f.currency, AsOf: time.Now().UTC()}, nil
}

type failingAlertStore struct {
	*fakeStore
	insertErr error
}

func (f *failingAlertStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return storage.AlertRecord{}, f.insertErr
}

type captureNotifier struct {
	notes []notify.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note notify.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) ofKind(kind notify.Kind) []notify.Notification {
	out := make([]notify.Notification, 0)
	for _, n := range c.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{
			DefaultThresholdPct:   15,
			VariationThresholdPct: 1,
			ReminderAfter:         time.Hour,
		},
		Notify: config.NotifyConfig{Enabled: true},
	}
}

func asset(symbol, class string, peak int64) storage.PeakRecord {
	return storage.PeakRecord{
		Symbol:       symbol,
		Name:         symbol,
		Class:        class,
		StartPrice:   decimal.NewFromInt(peak),
		StartAt:      time.Now().UTC().Add(-24 * time.Hour),
		PeakPrice:    decimal.NewFromInt(peak),
		PeakAt:       time.Now().UTC().Add(-24 * time.Hour),
		ThresholdPct: decimal.NewFromInt(15),
		Active:       true,
	}
}

func newTestService(cfg *config.Config, store *fakeStore, prices *fakeFetcher, notifier *captureNotifier) *Service {
	return New(cfg, nil, prices, store, store, store, store, notifier, zerolog.Nop())
}

func TestCycleFirstThresholdCrossing(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.NewFromInt(80)}}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if summary.Assets != 1 || summary.Failed != 0 || summary.Alerts != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected one alert record, got %d", len(store.alerts))
	}
	alert := store.alerts[0]
	if alert.Kind != drawdown.AlertThresholdCrossed {
		t.Fatalf("expected threshold crossing, got %s", alert.Kind)
	}
	if !alert.Drawdown.Equal(decimal.NewFromInt(-20)) {
		t.Fatalf("expected -20%% drawdown, got %s", alert.Drawdown)
	}
	if alert.ID == "" {
		t.Fatal("alert should carry an id")
	}
	if !alert.NotificationSent {
		t.Fatal("alert should be flagged as notified")
	}

	// At -20% the ETF ladder opens -5, -10, -15 and -20.
	if summary.NewLevels != 4 || len(store.levels) != 4 {
		t.Fatalf("expected 4 new level rows, got summary=%d rows=%d", summary.NewLevels, len(store.levels))
	}
	if len(store.samples) != 1 {
		t.Fatalf("price sample should be persisted, got %d", len(store.samples))
	}
	if store.samples[0].Currency != "USD" {
		t.Fatalf("sample without a quote currency should default to USD, got %s", store.samples[0].Currency)
	}
	if got := notifier.ofKind(notify.KindThreshold); len(got) != 1 {
		t.Fatalf("expected one threshold notification, got %d", len(got))
	}
	if got := notifier.ofKind(notify.KindLevels); len(got) != 1 || len(got[0].Levels) != 4 {
		t.Fatalf("expected one batched levels notification with 4 levels, got %+v", got)
	}
}

func TestCycleAlertMustBeDurableBeforeDelivery(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	alerts := &failingAlertStore{fakeStore: store, insertErr: errors.New("insert failed")}
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.NewFromInt(80)}}
	notifier := &captureNotifier{}
	svc := New(testConfig(), nil, prices, store, store, alerts, store, notifier, zerolog.Nop())

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if summary.Failed != 1 || summary.Alerts != 0 {
		t.Fatalf("failed insert should fail the asset without counting an alert: %+v", summary)
	}
	if len(notifier.ofKind(notify.KindThreshold)) != 0 {
		t.Fatal("nothing may be delivered until the alert record is stored")
	}
}

func TestCycleSampleCarriesQuoteCurrency(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XDWD", "ETF", 100)}}
	prices := &fakeFetcher{
		prices:   map[string]decimal.Decimal{"XDWD": decimal.NewFromInt(98)},
		currency: "EUR",
	}
	svc := newTestService(testConfig(), store, prices, &captureNotifier{})

	if _, err := svc.ExecuteCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(store.samples) != 1 || store.samples[0].Currency != "EUR" {
		t.Fatalf("sample should carry the provider currency, got %+v", store.samples)
	}
}

func TestCycleNewHighRaisesPeakWithoutAlert(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.NewFromInt(110)}}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if summary.PeakUpdates != 1 {
		t.Fatalf("peak should have moved, summary=%+v", summary)
	}
	if !store.assets[0].PeakPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected stored peak 110, got %s", store.assets[0].PeakPrice)
	}
	if len(store.alerts) != 0 || len(notifier.notes) != 0 {
		t.Fatal("a new high must not alert")
	}
}

func TestCycleQuietWhileDrawdownBarelyMoves(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	store.alerts = append(store.alerts, storage.AlertRecord{
		ID:       "prior",
		Symbol:   "XYZ",
		Kind:     drawdown.AlertThresholdCrossed,
		Drawdown: decimal.NewFromInt(-20),
	})
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.RequireFromString("79.5")}}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// -20.5% vs the prior -20% is under the 1 point variation threshold.
	if summary.Alerts != 0 || len(store.alerts) != 1 {
		t.Fatalf("no repeat alert expected, summary=%+v alerts=%d", summary, len(store.alerts))
	}
}

func TestCycleRecoveryResetsHistory(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	store.alerts = append(store.alerts, storage.AlertRecord{
		ID:       "prior",
		Symbol:   "XYZ",
		Kind:     drawdown.AlertThresholdCrossed,
		Drawdown: decimal.NewFromInt(-16),
	})
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.NewFromInt(90)}}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	if _, err := svc.ExecuteCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	latest := store.alerts[len(store.alerts)-1]
	if latest.Kind != drawdown.AlertRecovery {
		t.Fatalf("expected recovery record, got %s", latest.Kind)
	}

	// Falling back below threshold now fires a fresh crossing.
	prices.prices["XYZ"] = decimal.NewFromInt(84)
	if _, err := svc.ExecuteCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	latest = store.alerts[len(store.alerts)-1]
	if latest.Kind != drawdown.AlertThresholdCrossed {
		t.Fatalf("expected fresh crossing after recovery, got %s", latest.Kind)
	}
}

func TestCycleAssetFailureIsIsolated(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{
		asset("BAD", "ETF", 100),
		asset("GOOD", "ETF", 100),
	}}
	prices := &fakeFetcher{
		prices: map[string]decimal.Decimal{"GOOD": decimal.NewFromInt(95)},
		errs:   map[string]error{"BAD": errors.New("provider down")},
	}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if summary.Assets != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(prices.calls) != 2 {
		t.Fatalf("both assets should be attempted, got %v", prices.calls)
	}
	if len(store.samples) != 1 || store.samples[0].Symbol != "GOOD" {
		t.Fatalf("healthy asset should still be sampled, got %+v", store.samples)
	}
}

func TestCycleSkipsInactiveAssets(t *testing.T) {
	inactive := asset("OLD", "ETF", 100)
	inactive.Active = false
	store := &fakeStore{assets: []storage.PeakRecord{inactive}}
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"OLD": decimal.NewFromInt(50)}}
	svc := newTestService(testConfig(), store, prices, &captureNotifier{})

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if summary.Assets != 0 || len(prices.calls) != 0 {
		t.Fatalf("inactive asset must not be processed: %+v calls=%v", summary, prices.calls)
	}
}

func TestCycleRemindsAboutAgedUnusedLevels(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{asset("XYZ", "ETF", 100)}}
	store.levels = append(store.levels,
		storage.LevelRecord{
			Symbol:     "XYZ",
			Level:      decimal.NewFromInt(-5),
			Percentage: decimal.NewFromInt(30),
			PeakPrice:  decimal.NewFromInt(100),
			CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		},
		storage.LevelRecord{
			Symbol:     "XYZ",
			Level:      decimal.NewFromInt(-10),
			Percentage: decimal.NewFromInt(20),
			PeakPrice:  decimal.NewFromInt(100),
			Used:       true,
			CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		},
	)
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{"XYZ": decimal.NewFromInt(88)}}
	notifier := &captureNotifier{}
	svc := newTestService(testConfig(), store, prices, notifier)

	summary, err := svc.ExecuteCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if summary.Reminders != 1 || summary.NewLevels != 0 {
		t.Fatalf("expected one reminder and no new levels, got %+v", summary)
	}
	reminders := notifier.ofKind(notify.KindReminder)
	if len(reminders) != 1 || len(reminders[0].Levels) != 1 {
		t.Fatalf("expected one reminder covering one level, got %+v", reminders)
	}
	if !reminders[0].Levels[0].Level.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("reminder should cover the unused -5 level, got %s", reminders[0].Levels[0].Level)
	}
	if len(store.levels) != 2 {
		t.Fatal("no level rows should be added for already recorded levels")
	}
}

func TestCycleContextCancellationStopsProcessing(t *testing.T) {
	store := &fakeStore{assets: []storage.PeakRecord{
		asset("A", "ETF", 100),
		asset("B", "ETF", 100),
	}}
	prices := &fakeFetcher{prices: map[string]decimal.Decimal{
		"A": decimal.NewFromInt(95),
		"B": decimal.NewFromInt(95),
	}}
	cfg := testConfig()
	cfg.Monitor.AssetDelay = 50 * time.Millisecond
	svc := newTestService(cfg, store, prices, &captureNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.ExecuteCycle(ctx, time.Now().UTC())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(prices.calls) != 1 {
		t.Fatalf("only the first asset should be fetched before cancellation, got %v", prices.calls)
	}
}
