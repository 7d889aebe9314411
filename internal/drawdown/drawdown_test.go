package drawdown

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestDrawdownZeroPeak(t *testing.T) {
	dd := Drawdown(dec(100), decimal.Zero)
	if !dd.IsZero() {
		t.Fatalf("zero peak should yield zero drawdown, got %s", dd)
	}
}

func TestDrawdownAtPeakIsZero(t *testing.T) {
	dd := Drawdown(dec(250), dec(250))
	if !dd.IsZero() {
		t.Fatalf("price at peak should yield zero drawdown, got %s", dd)
	}
}

func TestDrawdownNeverPositiveBelowPeak(t *testing.T) {
	peak := dec(100)
	for _, price := range []float64{99.99, 80, 50, 0.01, 0} {
		dd := Drawdown(dec(price), peak)
		if dd.GreaterThan(decimal.Zero) {
			t.Fatalf("price %v <= peak should give non-positive drawdown, got %s", price, dd)
		}
	}
}

func TestDrawdownValue(t *testing.T) {
	dd := Drawdown(dec(80), dec(100))
	if !dd.Equal(dec(-20)) {
		t.Fatalf("expected -20, got %s", dd)
	}

	dd = Drawdown(dec(85), dec(100))
	if !dd.Equal(dec(-15)) {
		t.Fatalf("expected -15, got %s", dd)
	}
}

func TestLadderForFallsBack(t *testing.T) {
	ladder := LadderFor(nil, "CRYPTO")
	if len(ladder) != 5 {
		t.Fatalf("expected built-in crypto ladder with 5 steps, got %d", len(ladder))
	}

	ladder = LadderFor(nil, "BOND")
	if len(ladder) != len(DefaultLadders["ETF"]) {
		t.Fatalf("unknown class should fall back to ETF ladder")
	}

	custom := map[string]Ladder{"ETF": {step(-7, 100)}}
	ladder = LadderFor(custom, "ETF")
	if len(ladder) != 1 || !ladder[0].Level.Equal(dec(-7)) {
		t.Fatalf("configured ladder should win over the default")
	}
}
