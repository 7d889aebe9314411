package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"etf-guardian/internal/drawdown"
)

// PeakRecord is the per-asset monitoring state. StartPrice/StartAt are set
// once at provisioning and never mutated; PeakPrice is monotonically
// non-decreasing.
type PeakRecord struct {
	Symbol       string
	Name         string
	Class        string
	StartPrice   decimal.Decimal
	StartAt      time.Time
	PeakPrice    decimal.Decimal
	PeakAt       time.Time
	ThresholdPct decimal.Decimal
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PriceSample is one persisted price observation.
type PriceSample struct {
	Symbol     string
	Name       string
	Class      string
	Price      decimal.Decimal
	Change     decimal.Decimal
	ChangePct  decimal.Decimal
	Currency   string
	ObservedAt time.Time
}

// AlertRecord is one appended drawdown alert. Records are immutable; the
// latest record per symbol drives the next decision.
type AlertRecord struct {
	ID               string
	Symbol           string
	AssetName        string
	Kind             drawdown.AlertKind
	Drawdown         decimal.Decimal
	ThresholdPct     decimal.Decimal
	Price            decimal.Decimal
	PeakPrice        decimal.Decimal
	NotificationSent bool
	CreatedAt        time.Time
}

// LevelRecord is the stored eligibility state of one ladder level, keyed by
// (symbol, level, peak_price). Rows for superseded peaks remain for audit
// but are ignored by the new peak's key scope.
type LevelRecord struct {
	Symbol     string
	Level      decimal.Decimal
	Percentage decimal.Decimal
	PeakPrice  decimal.Decimal
	Used       bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeviceToken is one registered push notification recipient.
type DeviceToken struct {
	Token     string
	CreatedAt time.Time
}
