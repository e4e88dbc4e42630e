// Package throttle enforces per-rule rolling rate limits (per hour, per day)
// and cooldowns on auto-replies.
package throttle

import (
	"context"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var throttleDecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autoreply_throttle_decisions_total",
	Help: "Number of throttle check-and-reserve decisions",
}, []string{"result"})

// Guard vetoes matches that would exceed a rule's throttle settings
type Guard struct {
	store Store
}

// NewGuard creates a guard over store
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckAndReserve decides whether rule may send at now and, when allowed,
// records the send in the same atomic step. A store failure is a denial.
func (g *Guard) CheckAndReserve(ctx context.Context, rule *models.AutoReplyRule, now time.Time) Decision {
	d, err := g.store.CheckAndReserve(ctx, rule.ID, LimitsFor(rule), now)
	if err != nil {
		logrus.WithField("rule_id", rule.ID).Errorf("Throttle store failed, denying send: %v", err)
		d = Decision{Reason: ReasonUnavailable}
	}

	result := "allowed"
	if !d.Allowed {
		result = string(d.Reason)
	}
	throttleDecisionCount.WithLabelValues(result).Inc()

	return d
}

// State returns the current windows of a rule
func (g *Guard) State(ctx context.Context, ruleID string, now time.Time) (models.ThrottleState, error) {
	return g.store.State(ctx, ruleID, now)
}
