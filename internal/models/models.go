package models

import "time"

// Sentiment is the classified tone of a mention
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the known sentiments
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// PriorityLevel is the coarse ordinal used for human review
type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "low"
	PriorityMedium   PriorityLevel = "medium"
	PriorityHigh     PriorityLevel = "high"
	PriorityCritical PriorityLevel = "critical"
)

var priorityOrder = []PriorityLevel{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank returns the position of the level in low < medium < high < critical, or -1
func (p PriorityLevel) Rank() int {
	for i, l := range priorityOrder {
		if l == p {
			return i
		}
	}
	return -1
}

// Raise returns the level n steps above p, capped at critical
func (p PriorityLevel) Raise(n int) PriorityLevel {
	r := p.Rank()
	if r < 0 {
		r = 0
	}
	r += n
	if r >= len(priorityOrder) {
		r = len(priorityOrder) - 1
	}
	if r < 0 {
		r = 0
	}
	return priorityOrder[r]
}

// MatchType controls how a rule combines its keywords and phrases
type MatchType string

const (
	MatchAny MatchType = "any"
	MatchAll MatchType = "all"
)

// Mention represents one inbound social reference to the monitored account
type Mention struct {
	ID            string         `json:"id" validate:"required"`
	Source        string         `json:"source"` // "twitter", ...
	AuthorHandle  string         `json:"author_handle" validate:"required"`
	AuthorName    string         `json:"author_name"`
	Text          string         `json:"text"`
	URL           string         `json:"url"`
	CreatedAt     time.Time      `json:"created_at" validate:"required"`
	IngestedAt    time.Time      `json:"ingested_at"`
	AudienceSize  int64          `json:"audience_size" validate:"gte=0"`
	Sentiment     Sentiment      `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative"`
	PriorityScore float64        `json:"priority_score"`
	PriorityLevel PriorityLevel  `json:"priority_level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	IsFlagged     bool           `json:"is_flagged"`
	FlagReasons   []string       `json:"flag_reasons,omitempty"`
	IsReplied     bool           `json:"is_replied"`
	Reply         *ReplyMetadata `json:"reply,omitempty"`
	// Outcome is the terminal decision for the mention: matched_sent,
	// no_match or matched_throttled. Empty while the mention is pending.
	Outcome Outcome `json:"outcome,omitempty"`
}

// ReplyMetadata records which rule answered a mention and when
type ReplyMetadata struct {
	RuleID     string    `json:"rule_id"`
	RepliedAt  time.Time `json:"replied_at"`
	ExternalID string    `json:"external_id,omitempty"` // id of the reply on the platform
}

// AutoReplyRule is a configured matching policy
type AutoReplyRule struct {
	ID               string      `json:"id" validate:"required"`
	Name             string      `json:"name" validate:"required"`
	Keywords         []string    `json:"keywords"`
	Phrases          []string    `json:"phrases"`
	MatchType        MatchType   `json:"match_type" validate:"required,oneof=any all"`
	ResponseTemplate string      `json:"response_template" validate:"required"`
	Priority         int         `json:"priority"`
	IsActive         bool        `json:"is_active"`
	SentimentFilter  []Sentiment `json:"sentiment_filter,omitempty" validate:"dive,oneof=positive neutral negative"`
	MaxPerHour       *int        `json:"max_per_hour,omitempty" validate:"omitempty,gte=0"` // nil means no hourly limit
	MaxPerDay        *int        `json:"max_per_day,omitempty" validate:"omitempty,gte=0"`  // nil means no daily limit
	CooldownMinutes  int         `json:"cooldown_minutes" validate:"gte=0"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Limit returns a pointer to n for the optional throttle limits of a rule
func Limit(n int) *int {
	return &n
}

// Cooldown returns the rule cooldown as a duration
func (r AutoReplyRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// AllowsSentiment reports whether the sentiment filter admits s
func (r AutoReplyRule) AllowsSentiment(s Sentiment) bool {
	if len(r.SentimentFilter) == 0 {
		return true
	}
	for _, allowed := range r.SentimentFilter {
		if allowed == s {
			return true
		}
	}
	return false
}

// ThrottleState is the rolling send history of a rule
type ThrottleState struct {
	RuleID      string      `json:"rule_id"`
	HourlySends []time.Time `json:"hourly_sends"`
	DailySends  []time.Time `json:"daily_sends"`
	LastSend    time.Time   `json:"last_send"`
}

// Outcome is the decision recorded for a mention
type Outcome string

const (
	OutcomeSent           Outcome = "matched_sent"
	OutcomeThrottled      Outcome = "matched_throttled"
	OutcomeNoMatch        Outcome = "no_match"
	OutcomeFlagged        Outcome = "flagged"
	OutcomeSendFailed     Outcome = "send_failed"
	OutcomeAlreadyReplied Outcome = "already_replied"
	// OutcomeAlreadyProcessed re-logs a mention settled as no_match or
	// matched_throttled; Reason carries the earlier outcome.
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Terminal reports whether the outcome ends processing of a mention
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSent, OutcomeNoMatch, OutcomeThrottled:
		return true
	}
	return false
}

// ReplyLogEntry is an immutable audit record
type ReplyLogEntry struct {
	ID                  string    `json:"id"`
	MentionID           string    `json:"mention_id"`
	RuleID              string    `json:"rule_id,omitempty"`
	Outcome             Outcome   `json:"outcome"`
	Reason              string    `json:"reason,omitempty"` // throttle reason, flag reasons or send error
	Confidence          float64   `json:"confidence"`
	MatchedKeywords     []string  `json:"matched_keywords,omitempty"`
	MatchedPhrases      []string  `json:"matched_phrases,omitempty"`
	RenderedResponse    string    `json:"rendered_response,omitempty"`
	UnresolvedVariables []string  `json:"unresolved_variables,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Window is a half-open time range [Start, End)
type Window struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity,omitempty"` // "", "hour" or "day"
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// RuleStats is per-rule performance within a window
type RuleStats struct {
	RuleID    string  `json:"rule_id"`
	Matches   int     `json:"matches"`
	Sends     int     `json:"sends"`
	Throttled int     `json:"throttled"`
	Failures  int     `json:"failures"`
	SendRate  float64 `json:"send_rate"`
}

// Bucket holds counts for one granularity step of a window
type Bucket struct {
	Start    time.Time `json:"start"`
	Mentions int       `json:"mentions"`
	Sends    int       `json:"sends"`
	Flagged  int       `json:"flagged"`
}

// AnalyticsSnapshot is a recomputable aggregate over a window
type AnalyticsSnapshot struct {
	Window                Window                `json:"window"`
	TotalMentions         int                   `json:"total_mentions"`
	SentimentDistribution map[Sentiment]int     `json:"sentiment_distribution"`
	PriorityDistribution  map[PriorityLevel]int `json:"priority_distribution"`
	FlaggedMentions       int                   `json:"flagged_mentions"`
	RepliedMentions       int                   `json:"replied_mentions"`
	ResponseRate          float64               `json:"response_rate"`
	AveragePriority       float64               `json:"average_priority"`
	OutcomeCounts         map[Outcome]int       `json:"outcome_counts"`
	Rules                 []RuleStats           `json:"rules"`
	Buckets               []Bucket              `json:"buckets,omitempty"`
}

// Report represents a periodic analytics report
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Period      string             `json:"period"` // "daily" or "weekly"
	Snapshot    *AnalyticsSnapshot `json:"snapshot"`
	Flagged     []Mention          `json:"flagged,omitempty"`
}

// Alert represents an urgent notification about a flagged mention
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Mention   *Mention  `json:"mention,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
