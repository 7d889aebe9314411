package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"etf-guardian/internal/drawdown"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnknownAsset indicates an observation for a symbol with no
	// provisioned peak record.
	ErrUnknownAsset = errors.New("storage: unknown asset")
)

const (
	selectPeakSQL = `SELECT
        symbol, name, class,
        start_price, start_at,
        peak_price, peak_at,
        threshold_pct, active,
        created_at, updated_at
    FROM portfolio_assets
    WHERE symbol = $1;`

	// The WHERE clause makes the peak update a single-statement
	// compare-and-set: a concurrent lower observation never clobbers a
	// just-recorded higher peak.
	casPeakSQL = `UPDATE portfolio_assets
    SET peak_price = $2::numeric,
        peak_at    = $3,
        updated_at = now()
    WHERE symbol = $1
      AND $2::numeric > peak_price;`

	provisionAssetSQL = `INSERT INTO portfolio_assets (
        symbol, name, class,
        start_price, start_at,
        peak_price, peak_at,
        threshold_pct, active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (symbol) DO NOTHING;`

	listAssetsSQL = `SELECT
        symbol, name, class,
        start_price, start_at,
        peak_price, peak_at,
        threshold_pct, active,
        created_at, updated_at
    FROM portfolio_assets
    ORDER BY symbol;`

	upsertPriceSampleSQL = `INSERT INTO price_samples (
        symbol, name, class, price, change, change_pct, currency, observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (symbol, observed_at) DO UPDATE
    SET price      = EXCLUDED.price,
        change     = EXCLUDED.change,
        change_pct = EXCLUDED.change_pct;`

	listRecentSamplesSQL = `SELECT
        symbol, name, class, price, change, change_pct, currency, observed_at
    FROM price_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	listSamplesBetweenSQL = `SELECT
        symbol, name, class, price, change, change_pct, currency, observed_at
    FROM price_samples
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	insertAlertSQL = `INSERT INTO drawdown_alerts (
        id, symbol, asset_name, kind, drawdown, threshold_pct, price, peak_price, notification_sent
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING created_at;`

	latestAlertSQL = `SELECT
        id, symbol, asset_name, kind, drawdown, threshold_pct, price, peak_price, notification_sent, created_at
    FROM drawdown_alerts
    WHERE symbol = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT
        id, symbol, asset_name, kind, drawdown, threshold_pct, price, peak_price, notification_sent, created_at
    FROM drawdown_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	createLevelSQL = `INSERT INTO drawdown_levels (
        symbol, level, percentage, peak_price, used
    ) VALUES (
        $1,$2,$3,$4,false
    )
    ON CONFLICT (symbol, level, peak_price) DO NOTHING;`

	listLevelStatesSQL = `SELECT
        symbol, level, percentage, peak_price, used, created_at, updated_at
    FROM drawdown_levels
    WHERE symbol = $1
      AND peak_price = $2::numeric;`

	markLevelUsedSQL = `UPDATE drawdown_levels
    SET used = true, updated_at = now()
    WHERE symbol = $1
      AND level = $2::numeric
      AND peak_price = $3::numeric;`

	listOpenLevelsSQL = `SELECT
        symbol, level, percentage, peak_price, used, created_at, updated_at
    FROM drawdown_levels
    WHERE used = false
    ORDER BY created_at DESC
    LIMIT $1;`

	listDeviceTokensSQL = `SELECT token FROM device_tokens ORDER BY created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PeakStore defines peak record persistence.
type PeakStore interface {
	GetPeak(ctx context.Context, symbol string) (PeakRecord, error)
	RecordObservation(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) (PeakRecord, bool, error)
	ProvisionAsset(ctx context.Context, rec PeakRecord) error
	ListAssets(ctx context.Context) ([]PeakRecord, error)
}

// PriceSampleStore defines operations for price observation persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error)
}

// AlertStore defines operations for the append-only alert log.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LatestAlert(ctx context.Context, symbol string) (*AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// LevelStore defines operations for staged-level state.
type LevelStore interface {
	ListLevelStates(ctx context.Context, symbol string, peak decimal.Decimal) ([]LevelRecord, error)
	CreateLevelState(ctx context.Context, rec LevelRecord) error
	MarkLevelUsed(ctx context.Context, symbol string, level, peak decimal.Decimal) error
	ListOpenLevels(ctx context.Context, limit int) ([]LevelRecord, error)
}

// DeviceRegistry supplies the current set of notification recipients.
type DeviceRegistry interface {
	ListDeviceTokens(ctx context.Context) ([]string, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to peaks, samples, alerts, levels and devices.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetPeak fetches the peak record for a symbol.
func (s *Store) GetPeak(ctx context.Context, symbol string) (PeakRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return PeakRecord{}, err
	}

	rec, err := scanPeak(pool.QueryRow(ctx, selectPeakSQL, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return PeakRecord{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	if err != nil {
		return PeakRecord{}, fmt.Errorf("get peak: %w", err)
	}
	return rec, nil
}

// RecordObservation conditionally raises the stored peak and returns the
// freshest record. The update compares against the stored value inside a
// single statement, so overlapping cycles cannot interleave a lower price
// over a higher one. Returns updated=true when the peak moved.
func (s *Store) RecordObservation(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) (PeakRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PeakRecord{}, false, err
	}

	tag, execErr := pool.Exec(ctx, casPeakSQL, symbol, price.String(), observedAt)
	if execErr != nil {
		return PeakRecord{}, false, fmt.Errorf("update peak: %w", execErr)
	}

	rec, err := s.GetPeak(ctx, symbol)
	if err != nil {
		return PeakRecord{}, false, err
	}
	return rec, tag.RowsAffected() > 0, nil
}

// ProvisionAsset creates the peak record for a new asset. Existing records
// are left untouched.
func (s *Store) ProvisionAsset(ctx context.Context, rec PeakRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, provisionAssetSQL,
		rec.Symbol,
		rec.Name,
		rec.Class,
		rec.StartPrice.String(),
		rec.StartAt,
		rec.PeakPrice.String(),
		rec.PeakAt,
		rec.ThresholdPct.String(),
		rec.Active,
	)
	if execErr != nil {
		return fmt.Errorf("provision asset: %w", execErr)
	}
	return nil
}

// ListAssets lists all provisioned assets.
func (s *Store) ListAssets(ctx context.Context) ([]PeakRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]PeakRecord, 0)
	for rows.Next() {
		rec, scanErr := scanPeak(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assets = append(assets, rec)
	}
	return assets, rows.Err()
}

// UpsertPriceSample persists or updates a price observation.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Symbol,
		sample.Name,
		sample.Class,
		sample.Price.String(),
		sample.Change.String(),
		sample.ChangePct.String(),
		sample.Currency,
		sample.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListRecentSamples lists the most recent samples across all symbols.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// ListSamplesBetween lists one symbol's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// InsertAlert appends a new alert record.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.Symbol,
		alert.AssetName,
		string(alert.Kind),
		alert.Drawdown.String(),
		alert.ThresholdPct.String(),
		alert.Price.String(),
		alert.PeakPrice.String(),
		alert.NotificationSent,
	)
	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// LatestAlert returns the most recent alert for a symbol, or nil when the
// symbol has never alerted.
func (s *Store) LatestAlert(ctx context.Context, symbol string) (*AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanAlert(pool.QueryRow(ctx, latestAlertSQL, symbol))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("latest alert: %w", scanErr)
	}
	return &rec, nil
}

// ListRecentAlerts lists most recent alerts across all symbols.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// CreateLevelState records a level as eligible under the current peak.
// Re-creating an existing (symbol, level, peak) row is a no-op.
func (s *Store) CreateLevelState(ctx context.Context, rec LevelRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, createLevelSQL,
		rec.Symbol,
		rec.Level.String(),
		rec.Percentage.String(),
		rec.PeakPrice.String(),
	)
	if execErr != nil {
		return fmt.Errorf("create level state: %w", execErr)
	}
	return nil
}

// ListLevelStates lists level rows scoped to (symbol, peak).
func (s *Store) ListLevelStates(ctx context.Context, symbol string, peak decimal.Decimal) ([]LevelRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLevelStatesSQL, symbol, peak.String())
	if queryErr != nil {
		return nil, fmt.Errorf("list level states: %w", queryErr)
	}
	defer rows.Close()

	levels := make([]LevelRecord, 0)
	for rows.Next() {
		rec, scanErr := scanLevel(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		levels = append(levels, rec)
	}
	return levels, rows.Err()
}

// MarkLevelUsed flags a level as acted upon for its peak scope.
func (s *Store) MarkLevelUsed(ctx context.Context, symbol string, level, peak decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, markLevelUsedSQL, symbol, level.String(), peak.String())
	if execErr != nil {
		return fmt.Errorf("mark level used: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListOpenLevels lists unused level rows across all symbols.
func (s *Store) ListOpenLevels(ctx context.Context, limit int) ([]LevelRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenLevelsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list open levels: %w", queryErr)
	}
	defer rows.Close()

	levels := make([]LevelRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanLevel(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		levels = append(levels, rec)
	}
	return levels, rows.Err()
}

// ListDeviceTokens returns the registered push recipients.
func (s *Store) ListDeviceTokens(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeviceTokensSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list device tokens: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if scanErr := rows.Scan(&token); scanErr != nil {
			return nil, scanErr
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ PeakStore        = (*Store)(nil)
	_ PriceSampleStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ LevelStore       = (*Store)(nil)
	_ DeviceRegistry   = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeak(row rowScanner) (PeakRecord, error) {
	var (
		rec          PeakRecord
		startStr     string
		peakStr      string
		thresholdStr string
	)

	if err := row.Scan(
		&rec.Symbol,
		&rec.Name,
		&rec.Class,
		&startStr,
		&rec.StartAt,
		&peakStr,
		&rec.PeakAt,
		&thresholdStr,
		&rec.Active,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return PeakRecord{}, err
	}

	var err error
	if rec.StartPrice, err = decimal.NewFromString(startStr); err != nil {
		return PeakRecord{}, fmt.Errorf("parse start price: %w", err)
	}
	if rec.PeakPrice, err = decimal.NewFromString(peakStr); err != nil {
		return PeakRecord{}, fmt.Errorf("parse peak price: %w", err)
	}
	if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return PeakRecord{}, fmt.Errorf("parse threshold: %w", err)
	}
	return rec, nil
}

func scanSample(row rowScanner) (PriceSample, error) {
	var (
		sample    PriceSample
		priceStr  string
		changeStr string
		pctStr    string
	)

	if err := row.Scan(
		&sample.Symbol,
		&sample.Name,
		&sample.Class,
		&priceStr,
		&changeStr,
		&pctStr,
		&sample.Currency,
		&sample.ObservedAt,
	); err != nil {
		return PriceSample{}, err
	}

	var err error
	if sample.Price, err = decimal.NewFromString(priceStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	if sample.Change, err = decimal.NewFromString(changeStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse change: %w", err)
	}
	if sample.ChangePct, err = decimal.NewFromString(pctStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse change pct: %w", err)
	}
	return sample, nil
}

func scanAlert(row rowScanner) (AlertRecord, error) {
	var (
		rec          AlertRecord
		kind         string
		drawdownStr  string
		thresholdStr string
		priceStr     string
		peakStr      string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.AssetName,
		&kind,
		&drawdownStr,
		&thresholdStr,
		&priceStr,
		&peakStr,
		&rec.NotificationSent,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	rec.Kind = drawdown.AlertKind(kind)

	var err error
	if rec.Drawdown, err = decimal.NewFromString(drawdownStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse drawdown: %w", err)
	}
	if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", err)
	}
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.PeakPrice, err = decimal.NewFromString(peakStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse peak price: %w", err)
	}
	return rec, nil
}

func scanLevel(row rowScanner) (LevelRecord, error) {
	var (
		rec     LevelRecord
		lvlStr  string
		pctStr  string
		peakStr string
	)

	if err := row.Scan(
		&rec.Symbol,
		&lvlStr,
		&pctStr,
		&peakStr,
		&rec.Used,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return LevelRecord{}, err
	}

	var err error
	if rec.Level, err = decimal.NewFromString(lvlStr); err != nil {
		return LevelRecord{}, fmt.Errorf("parse level: %w", err)
	}
	if rec.Percentage, err = decimal.NewFromString(pctStr); err != nil {
		return LevelRecord{}, fmt.Errorf("parse percentage: %w", err)
	}
	if rec.PeakPrice, err = decimal.NewFromString(peakStr); err != nil {
		return LevelRecord{}, fmt.Errorf("parse peak price: %w", err)
	}
	return rec, nil
}

func collectSamples(rows pgx.Rows, hint int) ([]PriceSample, error) {
	samples := make([]PriceSample, 0, hint)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
