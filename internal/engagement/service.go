// Package engagement runs mentions through classification, flagging, rule
// matching and dispatch, recording every decision in the reply log.
package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/azure/mentions-autoreply-bot/internal/flagging"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/notifications"
	"github.com/azure/mentions-autoreply-bot/internal/priority"
	"github.com/azure/mentions-autoreply-bot/internal/rules"
	"github.com/azure/mentions-autoreply-bot/internal/sentiment"
	"github.com/azure/mentions-autoreply-bot/internal/sources"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrBatchRunning is returned when a batch is requested while one is in progress
var ErrBatchRunning = errors.New("batch already running")

var (
	processedMentions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_mentions_processed_total",
		Help: "Number of mentions processed by final outcome",
	}, []string{"outcome"})

	flaggedMentions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoreply_mentions_flagged_total",
		Help: "Number of mentions newly flagged for human review",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoreply_batch_duration_seconds",
		Help:    "Duration of mention batches",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Service handles the processing of mentions from every configured source
type Service struct {
	config              *config.Config
	mentions            store.MentionRepository
	rules               store.RuleRepository
	classifier          *sentiment.Classifier
	scorer              *priority.Scorer
	flagger             *flagging.Engine
	dispatcher          *dispatch.Dispatcher
	aggregator          *audit.Aggregator
	notificationService notifications.NotificationInterface
	sources             []sources.Source
	metrics             *Metrics
	mu                  sync.RWMutex
	running             atomic.Bool
	now                 func() time.Time
}

// Metrics describes the last completed batch
type Metrics struct {
	TotalMentions      int            `json:"total_mentions"`
	NewMentions        int            `json:"new_mentions"`
	LastRun            time.Time      `json:"last_run"`
	LastRunDuration    string         `json:"last_run_duration"`
	SourceMetrics      map[string]int `json:"source_metrics"`
	SentimentBreakdown map[string]int `json:"sentiment_breakdown"`
	OutcomeBreakdown   map[string]int `json:"outcome_breakdown"`
	ErrorCount         int            `json:"error_count"`
}

// NewService creates an engagement service. notificationService may be nil
// when no alert channel is configured.
func NewService(cfg *config.Config, st store.Store, dispatcher *dispatch.Dispatcher, aggregator *audit.Aggregator,
	notificationService notifications.NotificationInterface, srcs ...sources.Source) *Service {
	return &Service{
		config:              cfg,
		mentions:            st,
		rules:               st,
		classifier:          sentiment.NewClassifier(),
		scorer:              priority.NewScorer(cfg.AudienceThreshold),
		flagger:             flagging.NewEngine(cfg.ReplySLA, cfg.EscalationKeywords),
		dispatcher:          dispatcher,
		aggregator:          aggregator,
		notificationService: notificationService,
		sources:             srcs,
		metrics:             newMetrics(),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceMetrics:      make(map[string]int),
		SentimentBreakdown: make(map[string]int),
		OutcomeBreakdown:   make(map[string]int),
	}
}

// ProcessMention runs one mention through the pipeline and returns the log
// entries recorded for it, in order. It never fails: every problem ends up
// as an outcome on an entry.
func (s *Service) ProcessMention(ctx context.Context, m *models.Mention) []models.ReplyLogEntry {
	logger := logrus.WithField("mention_id", m.ID)
	var recorded []models.ReplyLogEntry
	record := func(e models.ReplyLogEntry) {
		if e.MentionID == "" {
			e.MentionID = m.ID
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now()
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.aggregator.Record(ctx, e)
		recorded = append(recorded, e)
	}

	// the stored copy is authoritative for decisions already taken
	wasFlagged, previous := m.IsFlagged, m.FlagReasons
	if stored, err := s.mentions.GetMention(ctx, m.ID); err == nil {
		m.IsReplied, m.Reply, m.Outcome = stored.IsReplied, stored.Reply, stored.Outcome
		wasFlagged, previous = stored.IsFlagged, stored.FlagReasons
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warnf("Failed to load stored mention state: %v", err)
	}

	if m.IsReplied {
		entry := models.ReplyLogEntry{Outcome: models.OutcomeAlreadyReplied}
		if m.Reply != nil {
			entry.RuleID = m.Reply.RuleID
		}
		record(entry)
		processedMentions.WithLabelValues(string(models.OutcomeAlreadyReplied)).Inc()
		return recorded
	}
	if m.Outcome.Terminal() {
		logger.Debugf("Mention already settled as %s", m.Outcome)
		record(models.ReplyLogEntry{Outcome: models.OutcomeAlreadyProcessed, Reason: string(m.Outcome)})
		processedMentions.WithLabelValues(string(models.OutcomeAlreadyProcessed)).Inc()
		return recorded
	}

	now := s.now()

	m.Sentiment = s.classifier.Classify(m.Text)
	m.PriorityScore, m.PriorityLevel = s.scorer.Score(m)
	m.IsFlagged, m.FlagReasons = s.flagger.Evaluate(m, now)

	if err := s.mentions.SaveMention(ctx, m); err != nil {
		logger.Errorf("Failed to persist mention analysis: %v", err)
	}

	if m.IsFlagged && (!wasFlagged || !sameReasons(previous, m.FlagReasons)) {
		record(models.ReplyLogEntry{Outcome: models.OutcomeFlagged, Reason: strings.Join(m.FlagReasons, ",")})
		s.alert(m)
	}

	active, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		logger.Errorf("Failed to load auto-reply rules: %v", err)
		record(models.ReplyLogEntry{Outcome: models.OutcomeNoMatch, Reason: fmt.Sprintf("rules: %v", err)})
		processedMentions.WithLabelValues(string(models.OutcomeNoMatch)).Inc()
		return recorded
	}

	candidates := rules.Match(m.Text, m.Sentiment, active)
	if len(candidates) == 0 {
		logger.Debug("No auto-reply rule matched")
		if err := s.mentions.MarkOutcome(ctx, m.ID, models.OutcomeNoMatch); err != nil {
			logger.Errorf("Failed to settle unmatched mention: %v", err)
		} else {
			m.Outcome = models.OutcomeNoMatch
		}
		record(models.ReplyLogEntry{Outcome: models.OutcomeNoMatch})
		processedMentions.WithLabelValues(string(models.OutcomeNoMatch)).Inc()
		return recorded
	}

	// only the best candidate is attempted; a throttled rule does not fall through
	entry := s.dispatcher.Dispatch(ctx, m, candidates[0])
	record(entry)
	processedMentions.WithLabelValues(string(entry.Outcome)).Inc()
	return recorded
}

// RunBatch fetches new mentions from every enabled source, stores them and
// processes every pending mention inside the lookback window. Cancelling ctx
// stops new mentions from starting; mentions already started run to their
// log entry.
func (s *Service) RunBatch(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBatchRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	now := s.now()
	since := now.Add(-s.config.LookbackWindow)
	logrus.Infof("Starting mention batch (lookback: %v)", s.config.LookbackWindow)

	fetched, sourceCounts, errorCount := s.fetchAll(ctx, since)

	newCount := 0
	for i := range fetched {
		fetched[i].IngestedAt = now
		inserted, err := s.mentions.InsertIfAbsent(ctx, &fetched[i])
		if err != nil {
			logrus.WithField("mention_id", fetched[i].ID).Errorf("Failed to store mention: %v", err)
			errorCount++
			continue
		}
		if inserted {
			newCount++
		}
	}

	pending, err := s.mentions.ListPending(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list pending mentions: %w", err)
	}
	logrus.Infof("Fetched %d mentions (%d new), %d pending", len(fetched), newCount, len(pending))

	var (
		outcomesMu sync.Mutex
		outcomes   = make(map[string]int)
		sentiments = make(map[string]int)
	)
	detached := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(s.config.Workers)
	for i := range pending {
		if ctx.Err() != nil {
			logrus.Warnf("Batch cancelled, %d mentions left for the next run", len(pending)-i)
			break
		}
		m := pending[i]
		g.Go(func() error {
			entries := s.ProcessMention(detached, &m)
			outcomesMu.Lock()
			defer outcomesMu.Unlock()
			sentiments[string(m.Sentiment)]++
			if len(entries) > 0 {
				outcomes[string(entries[len(entries)-1].Outcome)]++
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	batchDuration.Observe(duration.Seconds())

	s.mu.Lock()
	s.metrics = &Metrics{
		TotalMentions:      len(pending),
		NewMentions:        newCount,
		LastRun:            now,
		LastRunDuration:    duration.String(),
		SourceMetrics:      sourceCounts,
		SentimentBreakdown: sentiments,
		OutcomeBreakdown:   outcomes,
		ErrorCount:         errorCount,
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"pending":  len(pending),
		"new":      newCount,
		"errors":   errorCount,
		"outcomes": outcomes,
	}).Infof("Mention batch completed in %v", duration)
	return nil
}

func (s *Service) fetchAll(ctx context.Context, since time.Time) ([]models.Mention, map[string]int, int) {
	var (
		mu       sync.Mutex
		all      []models.Mention
		counts   = make(map[string]int)
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		if !src.IsEnabled() {
			logrus.Debugf("Skipping disabled source %s", src.GetName())
			continue
		}
		src := src
		g.Go(func() error {
			mentions, err := src.FetchMentions(gctx, since)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// partial results are still processed
				logrus.Errorf("Error fetching from %s: %v", src.GetName(), err)
				failures++
			}
			counts[src.GetName()] += len(mentions)
			all = append(all, mentions...)
			return nil
		})
	}
	_ = g.Wait()

	return all, counts, failures
}

// SweepStale re-evaluates flags on every unreplied mention so that mentions
// crossing the reply SLA between batches are flagged and alerted. It shares
// the batch guard and returns ErrBatchRunning while a batch is in progress.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrBatchRunning
	}
	defer s.running.Store(false)

	pending, err := s.mentions.ListUnreplied(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("failed to list unreplied mentions: %w", err)
	}

	now := s.now()
	flagged := 0
	for i := range pending {
		m := &pending[i]
		isFlagged, reasons := s.flagger.Evaluate(m, now)
		if !isFlagged || (m.IsFlagged && sameReasons(m.FlagReasons, reasons)) {
			continue
		}

		m.IsFlagged, m.FlagReasons = isFlagged, reasons
		if err := s.mentions.SaveMention(ctx, m); err != nil {
			logrus.WithField("mention_id", m.ID).Errorf("Failed to persist stale flag: %v", err)
			continue
		}
		s.aggregator.Record(ctx, models.ReplyLogEntry{
			MentionID: m.ID,
			Outcome:   models.OutcomeFlagged,
			Reason:    strings.Join(reasons, ","),
		})
		s.alert(m)
		flagged++
	}

	if flagged > 0 {
		logrus.Infof("Stale sweep flagged %d mentions", flagged)
	}
	return flagged, nil
}

func (s *Service) alert(m *models.Mention) {
	flaggedMentions.Inc()
	if !s.config.AlertFlagged || s.notificationService == nil {
		return
	}

	alertType := "info"
	switch m.PriorityLevel {
	case models.PriorityCritical:
		alertType = "critical"
	case models.PriorityHigh:
		alertType = "urgent"
	}

	mention := *m
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Title:     fmt.Sprintf("Flagged mention from @%s", m.AuthorHandle),
		Message:   strings.Join(m.FlagReasons, ", "),
		Mention:   &mention,
		CreatedAt: s.now(),
	}
	if err := s.notificationService.SendAlert(alert); err != nil {
		logrus.WithField("mention_id", m.ID).Errorf("Failed to send alert: %v", err)
	}
}

// GetMetrics returns the last batch metrics as JSON
func (s *Service) GetMetrics() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.Marshal(s.metrics)
}

// Running reports whether a batch or stale sweep is in progress
func (s *Service) Running() bool {
	return s.running.Load()
}

// sameReasons compares flag reasons ignoring the age carried by stale reasons
func sameReasons(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if reasonKey(a[i]) != reasonKey(b[i]) {
			return false
		}
	}
	return true
}

func reasonKey(reason string) string {
	if strings.HasPrefix(reason, "stale:") {
		return "stale"
	}
	return reason
}
