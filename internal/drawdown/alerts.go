package drawdown

import (
	"github.com/shopspring/decimal"
)

// AlertKind distinguishes why an alert record was appended.
type AlertKind string

const (
	// AlertThresholdCrossed marks the first breach of the alert threshold.
	AlertThresholdCrossed AlertKind = "threshold"
	// AlertVariation marks a significant move while already breached.
	AlertVariation AlertKind = "variation"
	// AlertRecovery marks the drawdown climbing back above threshold. A
	// recovery record resets history: the next breach is a fresh crossing.
	AlertRecovery AlertKind = "recovery"
)

// PriorAlert is the single latest stored alert for a symbol.
type PriorAlert struct {
	Kind     AlertKind
	Drawdown decimal.Decimal
}

// AlertDecision is the outcome of one alert evaluation.
type AlertDecision struct {
	Fire      bool
	Kind      AlertKind
	Variation decimal.Decimal
}

// AlertPolicy evaluates the threshold/variation alert rule.
type AlertPolicy struct {
	// VariationThreshold is the minimum absolute drawdown change, in
	// percentage points, before a repeat alert is worth sending.
	VariationThreshold decimal.Decimal
}

// Evaluate decides whether an alert record should be appended for the given
// drawdown. threshold is the positive configured percent (e.g. 15); the
// breach condition is dd <= -threshold. prior is the latest alert record for
// the symbol, or nil when none exists.
func (p AlertPolicy) Evaluate(dd, threshold decimal.Decimal, prior *PriorAlert) AlertDecision {
	breached := dd.LessThanOrEqual(threshold.Neg())

	if !breached {
		if prior != nil && prior.Kind != AlertRecovery {
			return AlertDecision{Fire: true, Kind: AlertRecovery}
		}
		return AlertDecision{}
	}

	if prior == nil || prior.Kind == AlertRecovery {
		return AlertDecision{Fire: true, Kind: AlertThresholdCrossed}
	}

	variation := dd.Sub(prior.Drawdown).Abs()
	if variation.GreaterThanOrEqual(p.VariationThreshold) {
		return AlertDecision{Fire: true, Kind: AlertVariation, Variation: variation}
	}

	return AlertDecision{}
}
