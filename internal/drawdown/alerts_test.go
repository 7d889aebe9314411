package drawdown

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testPolicy() AlertPolicy {
	return AlertPolicy{VariationThreshold: decimal.NewFromInt(1)}
}

func TestAlertNoBreachNoAlert(t *testing.T) {
	d := testPolicy().Evaluate(dec(-10), dec(15), nil)
	if d.Fire {
		t.Fatalf("drawdown above threshold should not fire, got %+v", d)
	}
}

func TestAlertFirstCrossing(t *testing.T) {
	d := testPolicy().Evaluate(dec(-16), dec(15), nil)
	if !d.Fire || d.Kind != AlertThresholdCrossed {
		t.Fatalf("expected threshold crossing, got %+v", d)
	}
}

// Threshold 15: -16 fires, -16.3 is a 0.3 point move and stays quiet, -17.5
// is a 1.5 point move from the last alert and fires again.
func TestAlertNoRepeatWithinVariationThreshold(t *testing.T) {
	policy := testPolicy()
	threshold := dec(15)

	first := policy.Evaluate(dec(-16), threshold, nil)
	if !first.Fire || first.Kind != AlertThresholdCrossed {
		t.Fatalf("first -16%% should fire a crossing, got %+v", first)
	}

	prior := &PriorAlert{Kind: first.Kind, Drawdown: dec(-16)}
	second := policy.Evaluate(dec(-16.3), threshold, prior)
	if second.Fire {
		t.Fatalf("0.3 point variation should not fire, got %+v", second)
	}

	third := policy.Evaluate(dec(-17.5), threshold, prior)
	if !third.Fire || third.Kind != AlertVariation {
		t.Fatalf("1.5 point variation should fire an update, got %+v", third)
	}
	if !third.Variation.Equal(dec(1.5)) {
		t.Fatalf("expected variation 1.5, got %s", third.Variation)
	}
}

func TestAlertVariationExactlyAtThresholdFires(t *testing.T) {
	prior := &PriorAlert{Kind: AlertThresholdCrossed, Drawdown: dec(-16)}
	d := testPolicy().Evaluate(dec(-17), dec(15), prior)
	if !d.Fire || d.Kind != AlertVariation {
		t.Fatalf("variation of exactly 1.0 should fire, got %+v", d)
	}
}

// Sequence -16, -10, -16: the recovery at -10 appends a recovery record, so
// the second -16 is treated as a fresh crossing rather than compared against
// the stale -16 alert.
func TestAlertRecoveryReset(t *testing.T) {
	policy := testPolicy()
	threshold := dec(15)

	first := policy.Evaluate(dec(-16), threshold, nil)
	if !first.Fire || first.Kind != AlertThresholdCrossed {
		t.Fatalf("expected first crossing, got %+v", first)
	}

	prior := &PriorAlert{Kind: AlertThresholdCrossed, Drawdown: dec(-16)}
	recovery := policy.Evaluate(dec(-10), threshold, prior)
	if !recovery.Fire || recovery.Kind != AlertRecovery {
		t.Fatalf("climbing above threshold should append a recovery record, got %+v", recovery)
	}

	prior = &PriorAlert{Kind: AlertRecovery, Drawdown: dec(-10)}
	again := policy.Evaluate(dec(-16), threshold, prior)
	if !again.Fire || again.Kind != AlertThresholdCrossed {
		t.Fatalf("breach after recovery should be a fresh crossing, got %+v", again)
	}
}

func TestAlertRecoveryFiresOnlyOnce(t *testing.T) {
	prior := &PriorAlert{Kind: AlertRecovery, Drawdown: dec(-10)}
	d := testPolicy().Evaluate(dec(-8), dec(15), prior)
	if d.Fire {
		t.Fatalf("no second recovery while already recovered, got %+v", d)
	}
}

func TestAlertBreachExactlyAtThresholdFires(t *testing.T) {
	d := testPolicy().Evaluate(dec(-15), dec(15), nil)
	if !d.Fire || d.Kind != AlertThresholdCrossed {
		t.Fatalf("drawdown equal to -threshold should breach, got %+v", d)
	}
}
