// Package dispatch turns a matched rule into an outbound reply.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/rules"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/templates"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// DefaultSendTimeout bounds a single Send call
const DefaultSendTimeout = 10 * time.Second

var (
	dispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_dispatch_total",
		Help: "Number of dispatch attempts by outcome",
	}, []string{"outcome"})

	sendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoreply_send_duration_seconds",
		Help:    "Latency of outbound reply sends",
		Buckets: prometheus.DefBuckets,
	})
)

// Sender posts a reply to the platform the mention came from
type Sender interface {
	// Send replies to targetMentionID with text and returns the platform id of the reply
	Send(ctx context.Context, text string, targetMentionID string) (string, error)
}

// Dispatcher renders, throttles and sends replies. Each mention is answered at most once.
type Dispatcher struct {
	mentions store.MentionRepository
	guard    *throttle.Guard
	sender   Sender
	timeout  time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultSendTimeout.
func NewDispatcher(mentions store.MentionRepository, guard *throttle.Guard, sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		mentions: mentions,
		guard:    guard,
		sender:   sender,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch attempts to answer m with the candidate rule and returns the
// audit entry describing what happened. It never returns an error: every
// failure is expressed as an outcome on the entry.
//
// On success m is updated with the reply metadata.
func (d *Dispatcher) Dispatch(ctx context.Context, m *models.Mention, c rules.Candidate) models.ReplyLogEntry {
	entry := models.ReplyLogEntry{
		ID:              uuid.NewString(),
		MentionID:       m.ID,
		RuleID:          c.Rule.ID,
		Confidence:      c.Confidence,
		MatchedKeywords: c.MatchedKeywords,
		MatchedPhrases:  c.MatchedPhrases,
	}
	logger := logrus.WithFields(logrus.Fields{"mention_id": m.ID, "rule_id": c.Rule.ID})

	finish := func(outcome models.Outcome, reason string) models.ReplyLogEntry {
		entry.Outcome = outcome
		entry.Reason = reason
		entry.CreatedAt = d.now()
		dispatchCount.WithLabelValues(string(outcome)).Inc()
		return entry
	}

	reserved, err := d.mentions.TryReserve(ctx, m.ID)
	if err != nil {
		logger.Errorf("Failed to reserve mention: %v", err)
		return finish(models.OutcomeSendFailed, fmt.Sprintf("reserve: %v", err))
	}
	if !reserved {
		logger.Debug("Mention already replied or in flight")
		return finish(models.OutcomeAlreadyReplied, "")
	}

	decision := d.guard.CheckAndReserve(ctx, &c.Rule, d.now())
	if !decision.Allowed {
		if err := d.mentions.MarkOutcome(ctx, m.ID, models.OutcomeThrottled); err != nil {
			logger.Errorf("Failed to settle throttled mention: %v", err)
			d.release(ctx, m.ID)
		} else {
			m.Outcome = models.OutcomeThrottled
		}
		logger.WithField("reason", decision.Reason).Info("Reply throttled")
		return finish(models.OutcomeThrottled, string(decision.Reason))
	}

	rendered := templates.Render(c.Rule.ResponseTemplate, templates.MentionVars(m, &c.Rule))
	entry.RenderedResponse = rendered.Text
	entry.UnresolvedVariables = rendered.Unresolved
	if len(rendered.Unresolved) > 0 {
		logger.Warnf("Response template has unresolved variables: %v", rendered.Unresolved)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	externalID, err := d.sender.Send(sendCtx, rendered.Text, m.ID)
	cancel()
	sendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// the throttle slot stays consumed; the send may have reached the platform
		d.release(ctx, m.ID)
		logger.Errorf("Failed to send reply: %v", err)
		return finish(models.OutcomeSendFailed, err.Error())
	}

	reply := models.ReplyMetadata{RuleID: c.Rule.ID, RepliedAt: d.now(), ExternalID: externalID}
	reason := ""
	if err := d.mentions.MarkReplied(ctx, m.ID, reply); err != nil {
		logger.Errorf("Reply sent but not recorded on mention: %v", err)
		reason = fmt.Sprintf("persist: %v", err)
	}
	m.IsReplied = true
	m.Reply = &reply
	m.Outcome = models.OutcomeSent

	logger.WithField("external_id", externalID).Info("Reply sent")
	return finish(models.OutcomeSent, reason)
}

func (d *Dispatcher) release(ctx context.Context, mentionID string) {
	if err := d.mentions.Release(ctx, mentionID); err != nil {
		logrus.WithField("mention_id", mentionID).Errorf("Failed to release mention: %v", err)
	}
}
