package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"etf-guardian/internal/drawdown"
)

// Kind distinguishes the notification flavours the monitor emits.
type Kind string

const (
	// KindThreshold announces a first threshold crossing.
	KindThreshold Kind = "threshold"
	// KindVariation announces a significant move while breached.
	KindVariation Kind = "variation"
	// KindRecovery announces the drawdown climbing back above threshold.
	KindRecovery Kind = "recovery"
	// KindLevels announces newly available staged investment levels.
	KindLevels Kind = "levels"
	// KindReminder nags about eligible levels not yet acted on.
	KindReminder Kind = "reminder"
)

// Notification carries everything a channel needs to render a message.
type Notification struct {
	Kind      Kind
	Symbol    string
	AssetName string
	Class     string
	Price     decimal.Decimal
	Peak      decimal.Decimal
	Drawdown  decimal.Decimal
	Threshold decimal.Decimal
	Levels    drawdown.Ladder
	At        time.Time
}

// Notifier delivers notifications. Delivery is fire-and-forget from the
// monitor's perspective: failures are logged by the caller, never retried.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Title renders the headline for a notification.
func Title(note Notification) string {
	switch note.Kind {
	case KindThreshold:
		return "Drawdown Alert"
	case KindVariation:
		return "Drawdown Update"
	case KindRecovery:
		return "Drawdown Recovered"
	case KindLevels:
		return "Investment Levels Available"
	case KindReminder:
		return "Reminder: Levels Still Available"
	default:
		return "Portfolio Notification"
	}
}

// Body renders the message body for a notification.
func Body(note Notification) string {
	name := note.AssetName
	if name == "" {
		name = note.Symbol
	}

	switch note.Kind {
	case KindThreshold:
		return fmt.Sprintf("%s: %s%% drawdown threshold reached (threshold %s%%)",
			name, note.Drawdown.StringFixed(2), note.Threshold.StringFixed(0))
	case KindVariation:
		return fmt.Sprintf("%s: drawdown now %s%%", name, note.Drawdown.StringFixed(2))
	case KindRecovery:
		return fmt.Sprintf("%s: drawdown recovered to %s%% (threshold %s%%)",
			name, note.Drawdown.StringFixed(2), note.Threshold.StringFixed(0))
	case KindLevels:
		return fmt.Sprintf("%s (%s): price $%s, drawdown %s%%. Levels: %s. Open the app to invest.",
			note.Symbol, note.Class, note.Price.StringFixed(4), note.Drawdown.StringFixed(2), levelsText(note.Levels))
	case KindReminder:
		return fmt.Sprintf("%s (%s): price $%s, drawdown %s%%. Available for over an hour: %s. You have not invested at these levels yet.",
			note.Symbol, note.Class, note.Price.StringFixed(4), note.Drawdown.StringFixed(2), levelsText(note.Levels))
	default:
		return fmt.Sprintf("%s: drawdown %s%%", name, note.Drawdown.StringFixed(2))
	}
}

func levelsText(ladder drawdown.Ladder) string {
	parts := make([]string, 0, len(ladder))
	for _, s := range ladder {
		parts = append(parts, fmt.Sprintf("%s%% (%s%% of buffer)", s.Level.StringFixed(0), s.Percentage.StringFixed(0)))
	}
	return strings.Join(parts, ", ")
}
