package throttle

import (
	"context"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Reason explains a denial
type Reason string

const (
	ReasonHourlyLimit Reason = "hourly_limit"
	ReasonDailyLimit  Reason = "daily_limit"
	ReasonCooldown    Reason = "cooldown"
	ReasonUnavailable Reason = "unavailable"
)

// Decision is the result of a check-and-reserve
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Limits are the throttle settings of a rule. A nil MaxPerHour or MaxPerDay
// means no limit for that window and zero denies every send; zero Cooldown
// means none.
type Limits struct {
	MaxPerHour *int
	MaxPerDay  *int
	Cooldown   time.Duration
}

// LimitsFor extracts the throttle settings of a rule
func LimitsFor(rule *models.AutoReplyRule) Limits {
	return Limits{
		MaxPerHour: rule.MaxPerHour,
		MaxPerDay:  rule.MaxPerDay,
		Cooldown:   rule.Cooldown(),
	}
}

// Store holds per-rule send history. CheckAndReserve must be atomic per rule:
// two concurrent callers can never both be allowed past a limit.
type Store interface {
	CheckAndReserve(ctx context.Context, ruleID string, limits Limits, now time.Time) (Decision, error)
	State(ctx context.Context, ruleID string, now time.Time) (models.ThrottleState, error)
}

// evaluate applies limits to a pruned send history. sends must only contain
// timestamps within the last day.
func evaluate(sends []time.Time, last time.Time, limits Limits, now time.Time) Decision {
	if limits.MaxPerHour != nil && countSince(sends, now.Add(-hourWindow)) >= *limits.MaxPerHour {
		return Decision{Reason: ReasonHourlyLimit}
	}
	if limits.MaxPerDay != nil && len(sends) >= *limits.MaxPerDay {
		return Decision{Reason: ReasonDailyLimit}
	}
	if limits.Cooldown > 0 && !last.IsZero() && now.Sub(last) < limits.Cooldown {
		return Decision{Reason: ReasonCooldown}
	}
	return Decision{Allowed: true}
}

func countSince(sends []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range sends {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// prune drops timestamps at or before the cutoff
func prune(sends []time.Time, cutoff time.Time) []time.Time {
	kept := sends[:0]
	for _, t := range sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func stateFrom(ruleID string, sends []time.Time, last time.Time, now time.Time) models.ThrottleState {
	state := models.ThrottleState{RuleID: ruleID, LastSend: last}
	hourCutoff := now.Add(-hourWindow)
	dayCutoff := now.Add(-dayWindow)
	for _, t := range sends {
		if t.After(dayCutoff) {
			state.DailySends = append(state.DailySends, t)
		}
		if t.After(hourCutoff) {
			state.HourlySends = append(state.HourlySends, t)
		}
	}
	return state
}
