package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"etf-guardian/internal/config"
	"etf-guardian/internal/drawdown"
	"etf-guardian/internal/fetcher"
	"etf-guardian/internal/notify"
	"etf-guardian/internal/scheduler"
	"etf-guardian/internal/storage"
)

// Service orchestrates the monitoring cycle: fetch, persist, decide, notify.
type Service struct {
	scheduler *scheduler.Scheduler
	prices    fetcher.PriceFetcher
	peaks     storage.PeakStore
	samples   storage.PriceSampleStore
	alerts    storage.AlertStore
	levels    storage.LevelStore
	notifier  notify.Notifier
	logger    zerolog.Logger

	alertPolicy drawdown.AlertPolicy
	levelPolicy drawdown.LevelPolicy
	ladders     map[string]drawdown.Ladder
	instruments map[string]fetcher.Instrument
	assetDelay  time.Duration
	notifyOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64
	now         func() time.Time
}

// CycleSummary tallies the outcome of one monitoring cycle.
type CycleSummary struct {
	Assets      int
	Failed      int
	PeakUpdates int
	Alerts      int
	NewLevels   int
	Reminders   int
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, prices fetcher.PriceFetcher, peaks storage.PeakStore, samples storage.PriceSampleStore, alerts storage.AlertStore, levels storage.LevelStore, notifier notify.Notifier, logger zerolog.Logger) *Service {
	instruments := make(map[string]fetcher.Instrument, len(cfg.Assets))
	for _, a := range cfg.Assets {
		instruments[a.Symbol] = fetcher.Instrument{
			Symbol: a.Symbol,
			Class:  a.Class,
			Source: a.Source,
			Ticker: a.Ticker,
			CoinID: a.CoinID,
			Feed:   a.Feed,
		}
	}

	var locker storage.AdvisoryLocker
	if l, ok := peaks.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		prices:    prices,
		peaks:     peaks,
		samples:   samples,
		alerts:    alerts,
		levels:    levels,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		alertPolicy: drawdown.AlertPolicy{
			VariationThreshold: decimal.NewFromFloat(cfg.Monitor.VariationThresholdPct),
		},
		levelPolicy: drawdown.LevelPolicy{ReminderAfter: cfg.Monitor.ReminderAfter},
		ladders:     laddersFromConfig(cfg.Ladders),
		instruments: instruments,
		assetDelay:  cfg.Monitor.AssetDelay,
		notifyOn:    cfg.Notify.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle runs one cycle under the advisory lock. A cycle already
// running elsewhere makes this one a no-op.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.ExecuteCycle(ctx, at)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int("assets", summary.Assets).
		Int("failed", summary.Failed).
		Int("peak_updates", summary.PeakUpdates).
		Int("alerts", summary.Alerts).
		Int("new_levels", summary.NewLevels).
		Int("reminders", summary.Reminders).
		Msg("cycle complete")
	return nil
}

// ExecuteCycle walks every active asset sequentially. A failing asset is
// logged and counted but never stops the rest of the cycle.
func (s *Service) ExecuteCycle(ctx context.Context, at time.Time) (CycleSummary, error) {
	var summary CycleSummary

	assets, err := s.peaks.ListAssets(ctx)
	if err != nil {
		return summary, fmt.Errorf("list assets: %w", err)
	}

	for i, rec := range assets {
		if !rec.Active {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if i > 0 && s.assetDelay > 0 {
			if err := sleepCtx(ctx, s.assetDelay); err != nil {
				return summary, err
			}
		}

		summary.Assets++
		outcome, err := s.processAsset(ctx, rec, at)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("asset cycle failed")
			continue
		}
		if outcome.peakUpdated {
			summary.PeakUpdates++
		}
		if outcome.alerted {
			summary.Alerts++
		}
		summary.NewLevels += outcome.newLevels
		summary.Reminders += outcome.reminders
	}

	return summary, nil
}

// ProcessSymbol runs the full pipeline for a single asset.
func (s *Service) ProcessSymbol(ctx context.Context, symbol string, at time.Time) error {
	rec, err := s.peaks.GetPeak(ctx, symbol)
	if err != nil {
		return err
	}
	if !rec.Active {
		return fmt.Errorf("asset %s is inactive", symbol)
	}
	_, err = s.processAsset(ctx, rec, at)
	return err
}

type assetOutcome struct {
	peakUpdated bool
	alerted     bool
	newLevels   int
	reminders   int
}

func (s *Service) processAsset(ctx context.Context, rec storage.PeakRecord, at time.Time) (assetOutcome, error) {
	var outcome assetOutcome

	quote, err := s.prices.FetchPrice(ctx, s.instrument(rec))
	if err != nil {
		return outcome, fmt.Errorf("fetch price: %w", err)
	}
	if quote.Price.IsZero() || quote.Price.IsNegative() {
		return outcome, fmt.Errorf("provider returned non-positive price %s", quote.Price)
	}

	if s.samples != nil {
		currency := quote.Currency
		if currency == "" {
			currency = "USD"
		}
		sample := storage.PriceSample{
			Symbol:     rec.Symbol,
			Name:       rec.Name,
			Class:      rec.Class,
			Price:      quote.Price,
			Change:     quote.Change,
			ChangePct:  quote.ChangePct,
			Currency:   currency,
			ObservedAt: at,
		}
		// Fail closed: decisions are only made against persisted state.
		if err := s.samples.UpsertPriceSample(ctx, sample); err != nil {
			return outcome, fmt.Errorf("persist price sample: %w", err)
		}
	}

	// Peak update comes first so the drawdown below is always measured
	// against the freshest peak. A new high means drawdown zero.
	rec, updated, err := s.peaks.RecordObservation(ctx, rec.Symbol, quote.Price, at)
	if err != nil {
		return outcome, fmt.Errorf("record observation: %w", err)
	}
	outcome.peakUpdated = updated

	dd := drawdown.Drawdown(quote.Price, rec.PeakPrice)

	s.logger.Info().
		Str("symbol", rec.Symbol).
		Str("price", quote.Price.String()).
		Str("peak", rec.PeakPrice.String()).
		Str("drawdown_pct", dd.StringFixed(2)).
		Bool("peak_updated", updated).
		Msg("asset observed")

	alerted, err := s.evaluateAlert(ctx, rec, quote, dd)
	if err != nil {
		return outcome, err
	}
	outcome.alerted = alerted

	newLevels, reminders, err := s.evaluateLevels(ctx, rec, quote, dd)
	if err != nil {
		return outcome, err
	}
	outcome.newLevels = newLevels
	outcome.reminders = reminders

	return outcome, nil
}

func (s *Service) evaluateAlert(ctx context.Context, rec storage.PeakRecord, quote fetcher.Quote, dd decimal.Decimal) (bool, error) {
	latest, err := s.alerts.LatestAlert(ctx, rec.Symbol)
	if err != nil {
		return false, fmt.Errorf("latest alert: %w", err)
	}

	var prior *drawdown.PriorAlert
	if latest != nil {
		prior = &drawdown.PriorAlert{Kind: latest.Kind, Drawdown: latest.Drawdown}
	}

	decision := s.alertPolicy.Evaluate(dd, rec.ThresholdPct, prior)
	if !decision.Fire {
		return false, nil
	}

	dispatch := s.notifyOn && s.notifier != nil

	// The record must be durable before any delivery attempt: the stored
	// alert, not delivery, drives the next decision.
	record := storage.AlertRecord{
		ID:               uuid.NewString(),
		Symbol:           rec.Symbol,
		AssetName:        rec.Name,
		Kind:             decision.Kind,
		Drawdown:         dd,
		ThresholdPct:     rec.ThresholdPct,
		Price:            quote.Price,
		PeakPrice:        rec.PeakPrice,
		NotificationSent: dispatch,
	}
	if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
		return false, fmt.Errorf("persist alert: %w", err)
	}

	if dispatch {
		note := notify.Notification{
			Kind:      notifyKind(decision.Kind),
			Symbol:    rec.Symbol,
			AssetName: rec.Name,
			Class:     rec.Class,
			Price:     quote.Price,
			Peak:      rec.PeakPrice,
			Drawdown:  dd,
			Threshold: rec.ThresholdPct,
			At:        s.now(),
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to dispatch alert")
		}
	}

	s.logger.Info().
		Str("symbol", rec.Symbol).
		Str("kind", string(decision.Kind)).
		Str("drawdown_pct", dd.StringFixed(2)).
		Str("variation_pct", decision.Variation.StringFixed(2)).
		Msg("alert recorded")
	return true, nil
}

func (s *Service) evaluateLevels(ctx context.Context, rec storage.PeakRecord, quote fetcher.Quote, dd decimal.Decimal) (int, int, error) {
	ladder := drawdown.LadderFor(s.ladders, rec.Class)
	if len(ladder) == 0 {
		return 0, 0, nil
	}

	stored, err := s.levels.ListLevelStates(ctx, rec.Symbol, rec.PeakPrice)
	if err != nil {
		return 0, 0, fmt.Errorf("list level states: %w", err)
	}

	states := make([]drawdown.LevelState, 0, len(stored))
	for _, l := range stored {
		states = append(states, drawdown.LevelState{
			Level:     l.Level,
			Used:      l.Used,
			CreatedAt: l.CreatedAt,
		})
	}

	decision := s.levelPolicy.Evaluate(ladder, dd, states, s.now())

	for _, step := range decision.NewlyAvailable {
		level := storage.LevelRecord{
			Symbol:     rec.Symbol,
			Level:      step.Level,
			Percentage: step.Percentage,
			PeakPrice:  rec.PeakPrice,
		}
		if err := s.levels.CreateLevelState(ctx, level); err != nil {
			return 0, 0, fmt.Errorf("create level state: %w", err)
		}
	}

	if len(decision.NewlyAvailable) > 0 {
		s.notifyLevels(ctx, rec, quote, dd, notify.KindLevels, decision.NewlyAvailable)
	}
	if len(decision.Reminders) > 0 {
		s.notifyLevels(ctx, rec, quote, dd, notify.KindReminder, decision.Reminders)
	}

	return len(decision.NewlyAvailable), len(decision.Reminders), nil
}

func (s *Service) notifyLevels(ctx context.Context, rec storage.PeakRecord, quote fetcher.Quote, dd decimal.Decimal, kind notify.Kind, ladder drawdown.Ladder) {
	if !s.notifyOn || s.notifier == nil {
		return
	}

	note := notify.Notification{
		Kind:      kind,
		Symbol:    rec.Symbol,
		AssetName: rec.Name,
		Class:     rec.Class,
		Price:     quote.Price,
		Peak:      rec.PeakPrice,
		Drawdown:  dd,
		Threshold: rec.ThresholdPct,
		Levels:    ladder,
		At:        s.now(),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).
			Str("symbol", rec.Symbol).
			Str("kind", string(kind)).
			Msg("failed to dispatch level notification")
	}
}

func (s *Service) instrument(rec storage.PeakRecord) fetcher.Instrument {
	if inst, ok := s.instruments[rec.Symbol]; ok {
		return inst
	}
	return fetcher.Instrument{Symbol: rec.Symbol, Class: rec.Class}
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

func notifyKind(kind drawdown.AlertKind) notify.Kind {
	switch kind {
	case drawdown.AlertThresholdCrossed:
		return notify.KindThreshold
	case drawdown.AlertVariation:
		return notify.KindVariation
	case drawdown.AlertRecovery:
		return notify.KindRecovery
	default:
		return notify.Kind(kind)
	}
}

func laddersFromConfig(configured map[string][]config.Ladder) map[string]drawdown.Ladder {
	if len(configured) == 0 {
		return drawdown.DefaultLadders
	}

	ladders := make(map[string]drawdown.Ladder, len(configured))
	for class, steps := range configured {
		ladder := make(drawdown.Ladder, 0, len(steps))
		for _, step := range steps {
			ladder = append(ladder, drawdown.LadderStep{
				Level:      decimal.NewFromFloat(step.Level),
				Percentage: decimal.NewFromFloat(step.Percentage),
			})
		}
		ladders[class] = ladder
	}
	for class, ladder := range drawdown.DefaultLadders {
		if _, ok := ladders[class]; !ok {
			ladders[class] = ladder
		}
	}
	return ladders
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
