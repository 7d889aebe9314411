package drawdown

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Drawdown returns the signed percentage decline of current from peak.
// A zero or missing peak means "no data" and yields zero rather than an
// error. Callers must refresh the peak before computing against it; with a
// fresh peak the result is always <= 0.
func Drawdown(current, peak decimal.Decimal) decimal.Decimal {
	if peak.IsZero() {
		return decimal.Zero
	}
	return current.Sub(peak).Div(peak).Mul(hundred)
}

// LadderStep is one staged investment level: at Level percent drawdown,
// Percentage percent of the reserve buffer becomes eligible to deploy.
type LadderStep struct {
	Level      decimal.Decimal
	Percentage decimal.Decimal
}

// Ladder is the ordered set of staged levels for one asset class.
type Ladder []LadderStep

func step(level, percentage int64) LadderStep {
	return LadderStep{Level: decimal.NewFromInt(level), Percentage: decimal.NewFromInt(percentage)}
}

// DefaultLadders holds the built-in per-class ladders, used when the
// configuration does not override them.
var DefaultLadders = map[string]Ladder{
	"ETF": {
		step(-5, 30),
		step(-10, 20),
		step(-15, 10),
		step(-20, 5),
		step(-25, 5),
		step(-30, 10),
		step(-50, 50),
	},
	"CRYPTO": {
		step(-10, 20),
		step(-20, 30),
		step(-30, 25),
		step(-40, 15),
		step(-50, 10),
	},
}

// LadderFor resolves the ladder for an asset class, falling back to the ETF
// ladder for unknown classes.
func LadderFor(ladders map[string]Ladder, class string) Ladder {
	if ladder, ok := ladders[class]; ok && len(ladder) > 0 {
		return ladder
	}
	if ladder, ok := DefaultLadders[class]; ok {
		return ladder
	}
	return DefaultLadders["ETF"]
}
