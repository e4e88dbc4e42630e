package flagging

import (
	"fmt"
	"strings"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"golang.org/x/text/cases"
)

// DefaultSLA is how long a mention may wait for a reply before it is flagged as stale
const DefaultSLA = 4 * time.Hour

// DefaultEscalationKeywords always route a mention to a human
var DefaultEscalationKeywords = []string{
	// Security
	"security vulnerability", "breach", "hacked", "phishing", "scam", "fraud",
	// Service issues
	"outage", "downtime", "data loss", "not working for days",
	// Legal and reputational
	"lawsuit", "lawyer", "legal action", "press", "journalist",
	// Account and money
	"refund", "chargeback", "cancel my account",
}

// Engine decides whether a mention requires human review
type Engine struct {
	sla      time.Duration
	keywords []string
	folded   []string
}

// NewEngine creates a flagging engine. A non-positive sla falls back to DefaultSLA
// and a nil keyword list falls back to DefaultEscalationKeywords.
func NewEngine(sla time.Duration, keywords []string) *Engine {
	if sla <= 0 {
		sla = DefaultSLA
	}
	if keywords == nil {
		keywords = DefaultEscalationKeywords
	}

	e := &Engine{sla: sla}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		e.keywords = append(e.keywords, k)
		e.folded = append(e.folded, cases.Fold().String(k))
	}
	return e
}

// SLA returns the staleness threshold
func (e *Engine) SLA() time.Duration {
	return e.sla
}

// Evaluate returns whether the mention is flagged and why. Reasons are
// ordered: priority, staleness, then escalation keywords in configured order.
func (e *Engine) Evaluate(m *models.Mention, now time.Time) (bool, []string) {
	var reasons []string

	switch m.PriorityLevel {
	case models.PriorityHigh, models.PriorityCritical:
		reasons = append(reasons, "priority:"+string(m.PriorityLevel))
	}

	if stale, age := e.IsStale(m, now); stale {
		reasons = append(reasons, fmt.Sprintf("stale:%s", age.Truncate(time.Minute)))
	}

	if len(e.folded) > 0 && m.Text != "" {
		text := cases.Fold().String(m.Text)
		for i, k := range e.folded {
			if strings.Contains(text, k) {
				reasons = append(reasons, "keyword:"+e.keywords[i])
			}
		}
	}

	return len(reasons) > 0, reasons
}

// IsStale reports whether an unreplied mention has waited longer than the SLA.
// The wait counts from ingestion, or from creation when the ingestion time is
// unknown.
func (e *Engine) IsStale(m *models.Mention, now time.Time) (bool, time.Duration) {
	since := m.IngestedAt
	if since.IsZero() {
		since = m.CreatedAt
	}
	if m.IsReplied || since.IsZero() {
		return false, 0
	}
	age := now.Sub(since)
	return age > e.sla, age
}
