package drawdown

import (
	"time"

	"github.com/shopspring/decimal"
)

// LevelState is the stored eligibility state of one ladder level, scoped to
// the peak it was computed against.
type LevelState struct {
	Level     decimal.Decimal
	Used      bool
	CreatedAt time.Time
}

// LevelDecision reports which ladder levels need action this cycle. The two
// sets are disjoint: a level is newly available only when no state row
// exists for it yet, and reminder-due only when an unused row has aged past
// the reminder window.
type LevelDecision struct {
	NewlyAvailable Ladder
	Reminders      Ladder
}

// LevelPolicy evaluates the staged-level ladder.
type LevelPolicy struct {
	ReminderAfter time.Duration
}

// Evaluate walks the ladder for the current drawdown. states must already be
// scoped to (symbol, current peak); rows recorded under an older peak are
// stale and must not be passed in.
func (p LevelPolicy) Evaluate(ladder Ladder, dd decimal.Decimal, states []LevelState, now time.Time) LevelDecision {
	var decision LevelDecision

	for _, s := range ladder {
		if dd.GreaterThan(s.Level) {
			continue
		}

		state := findState(states, s.Level)
		if state == nil {
			decision.NewlyAvailable = append(decision.NewlyAvailable, s)
			continue
		}
		if state.Used {
			continue
		}
		if now.Sub(state.CreatedAt) >= p.ReminderAfter {
			decision.Reminders = append(decision.Reminders, s)
		}
	}

	return decision
}

func findState(states []LevelState, level decimal.Decimal) *LevelState {
	for i := range states {
		if states[i].Level.Equal(level) {
			return &states[i]
		}
	}
	return nil
}
