// Package audit records every engagement decision and derives analytics from
// the recorded history.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Granularities accepted by Summarize
const (
	GranularityHour = "hour"
	GranularityDay  = "day"
)

// maxBuckets caps the bucket series of one snapshot
const maxBuckets = 24 * 366

// ErrInvalidWindow is returned for empty, inverted or unbucketable windows
var ErrInvalidWindow = errors.New("invalid analytics window")

var (
	recordedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_log_entries_total",
		Help: "Number of reply log entries recorded by outcome",
	}, []string{"outcome"})

	recordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoreply_log_failures_total",
		Help: "Number of reply log entries that could not be persisted",
	})
)

// Aggregator appends to the reply log and computes snapshots from it
type Aggregator struct {
	log      store.ReplyLogRepository
	mentions store.MentionRepository
	now      func() time.Time
}

// NewAggregator creates an aggregator over the given repositories
func NewAggregator(log store.ReplyLogRepository, mentions store.MentionRepository) *Aggregator {
	return &Aggregator{
		log:      log,
		mentions: mentions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record appends entry to the reply log. Failures are logged and counted,
// never returned, so they cannot abort mention processing.
func (a *Aggregator) Record(ctx context.Context, entry models.ReplyLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}

	if err := a.log.Append(ctx, &entry); err != nil {
		recordFailures.Inc()
		logrus.WithFields(logrus.Fields{
			"mention_id": entry.MentionID,
			"rule_id":    entry.RuleID,
			"outcome":    entry.Outcome,
		}).Warnf("Failed to record reply log entry: %v", err)
		return
	}
	recordedEntries.WithLabelValues(string(entry.Outcome)).Inc()
}

// Summarize recomputes the analytics snapshot for mentions and log entries
// created within w. It has no side effects and returns identical results for
// identical stored data.
func (a *Aggregator) Summarize(ctx context.Context, w models.Window) (*models.AnalyticsSnapshot, error) {
	step, err := bucketStep(w)
	if err != nil {
		return nil, err
	}

	mentions, err := a.mentions.ListMentions(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load mentions: %w", err)
	}
	entries, err := a.log.ListEntries(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load reply log: %w", err)
	}

	return summarize(w, step, mentions, entries), nil
}

func bucketStep(w models.Window) (time.Duration, error) {
	if !w.End.After(w.Start) {
		return 0, fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	}

	var step time.Duration
	switch w.Granularity {
	case "":
		return 0, nil
	case GranularityHour:
		step = time.Hour
	case GranularityDay:
		step = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown granularity %q", ErrInvalidWindow, w.Granularity)
	}

	if n := w.End.Sub(w.Start) / step; n > maxBuckets {
		return 0, fmt.Errorf("%w: %d buckets exceeds the limit of %d", ErrInvalidWindow, n, maxBuckets)
	}
	return step, nil
}

func summarize(w models.Window, step time.Duration, mentions []models.Mention, entries []models.ReplyLogEntry) *models.AnalyticsSnapshot {
	snap := &models.AnalyticsSnapshot{
		Window:                w,
		SentimentDistribution: make(map[models.Sentiment]int),
		PriorityDistribution:  make(map[models.PriorityLevel]int),
		OutcomeCounts:         make(map[models.Outcome]int),
		Rules:                 []models.RuleStats{},
	}

	var buckets []models.Bucket
	if step > 0 {
		for start := w.Start; start.Before(w.End); start = start.Add(step) {
			buckets = append(buckets, models.Bucket{Start: start})
		}
	}
	bucketFor := func(t time.Time) *models.Bucket {
		if len(buckets) == 0 {
			return nil
		}
		i := int(t.Sub(w.Start) / step)
		if i < 0 || i >= len(buckets) {
			return nil
		}
		return &buckets[i]
	}

	var priorityTotal float64
	for _, m := range mentions {
		snap.TotalMentions++

		sentiment := m.Sentiment
		if sentiment == "" {
			sentiment = models.SentimentNeutral
		}
		snap.SentimentDistribution[sentiment]++
		if m.PriorityLevel != "" {
			snap.PriorityDistribution[m.PriorityLevel]++
		}
		priorityTotal += m.PriorityScore

		if m.IsFlagged {
			snap.FlaggedMentions++
		}
		if m.IsReplied {
			snap.RepliedMentions++
		}

		if b := bucketFor(m.CreatedAt); b != nil {
			b.Mentions++
			if m.IsFlagged {
				b.Flagged++
			}
		}
	}
	if snap.TotalMentions > 0 {
		snap.ResponseRate = float64(snap.RepliedMentions) / float64(snap.TotalMentions)
		snap.AveragePriority = priorityTotal / float64(snap.TotalMentions)
	}

	perRule := make(map[string]*models.RuleStats)
	for _, e := range entries {
		snap.OutcomeCounts[e.Outcome]++

		if e.Outcome == models.OutcomeSent {
			if b := bucketFor(e.CreatedAt); b != nil {
				b.Sends++
			}
		}

		if e.RuleID == "" {
			continue
		}
		var count func(*models.RuleStats)
		switch e.Outcome {
		case models.OutcomeSent:
			count = func(rs *models.RuleStats) { rs.Sends++ }
		case models.OutcomeThrottled:
			count = func(rs *models.RuleStats) { rs.Throttled++ }
		case models.OutcomeSendFailed:
			count = func(rs *models.RuleStats) { rs.Failures++ }
		default:
			// already_replied re-logs are not new matches
			continue
		}
		rs, ok := perRule[e.RuleID]
		if !ok {
			rs = &models.RuleStats{RuleID: e.RuleID}
			perRule[e.RuleID] = rs
		}
		rs.Matches++
		count(rs)
	}

	for _, rs := range perRule {
		if rs.Matches > 0 {
			rs.SendRate = float64(rs.Sends) / float64(rs.Matches)
		}
		snap.Rules = append(snap.Rules, *rs)
	}
	sort.Slice(snap.Rules, func(i, j int) bool { return snap.Rules[i].RuleID < snap.Rules[j].RuleID })

	snap.Buckets = buckets
	return snap
}
