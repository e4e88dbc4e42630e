package engagement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/sources"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender is a mock implementation of dispatch.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, text string, targetMentionID string) (string, error) {
	args := m.Called(ctx, text, targetMentionID)
	return args.String(0), args.Error(1)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendReport(report *models.Report) error {
	args := m.Called(report)
	return args.Error(0)
}

func (m *MockNotificationService) SendAlert(alert *models.Alert) error {
	args := m.Called(alert)
	return args.Error(0)
}

// fakeSource returns a fixed set of mentions
type fakeSource struct {
	mentions []models.Mention
	err      error
	block    chan struct{}
	called   chan struct{}
}

var _ sources.Source = (*fakeSource)(nil)

func (f *fakeSource) GetName() string { return "fake" }
func (f *fakeSource) IsEnabled() bool { return true }

func (f *fakeSource) FetchMentions(ctx context.Context, since time.Time) ([]models.Mention, error) {
	if f.called != nil {
		close(f.called)
	}
	if f.block != nil {
		<-f.block
	}
	out := make([]models.Mention, len(f.mentions))
	copy(out, f.mentions)
	return out, f.err
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	st       *store.MemoryStore
	sender   *MockSender
	notifier *MockNotificationService
}

func newFixture(t *testing.T, rules []models.AutoReplyRule, srcs ...sources.Source) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	for i := range rules {
		require.NoError(t, st.SaveRule(context.Background(), &rules[i]))
	}

	sender := &MockSender{}
	notifier := &MockNotificationService{}
	cfg := &config.Config{
		Workers:           4,
		LookbackWindow:    24 * time.Hour,
		AudienceThreshold: 1000,
		ReplySLA:          4 * time.Hour,
		AlertFlagged:      true,
	}
	d := dispatch.NewDispatcher(st, throttle.NewGuard(throttle.NewMemoryStore()), sender, time.Second)
	svc := NewService(cfg, st, d, audit.NewAggregator(st, st), notifier, srcs...)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, st: st, sender: sender, notifier: notifier}
}

func rule(id string, priority int, keywords ...string) models.AutoReplyRule {
	return models.AutoReplyRule{
		ID:               id,
		Name:             id,
		Keywords:         keywords,
		MatchType:        models.MatchAny,
		ResponseTemplate: "Hi @{{author_username}}, rule " + id,
		Priority:         priority,
		IsActive:         true,
		CreatedAt:        now.Add(-time.Duration(100-priority) * time.Hour),
	}
}

func (f *fixture) insert(t *testing.T, m models.Mention) *models.Mention {
	t.Helper()
	if m.AuthorHandle == "" {
		m.AuthorHandle = "jdoe"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.Add(-time.Minute)
	}
	if m.IngestedAt.IsZero() {
		m.IngestedAt = m.CreatedAt
	}
	_, err := f.st.InsertIfAbsent(context.Background(), &m)
	require.NoError(t, err)
	stored, err := f.st.GetMention(context.Background(), m.ID)
	require.NoError(t, err)
	return stored
}

func last(entries []models.ReplyLogEntry) models.ReplyLogEntry {
	return entries[len(entries)-1]
}

func TestProcessMention_HighestPriorityRuleIsDispatched(t *testing.T) {
	f := newFixture(t, []models.AutoReplyRule{rule("low", 3, "login"), rule("high", 7, "help")})
	f.sender.On("Send", mock.Anything, "Hi @jdoe, rule high", "m1").Return("tw-1", nil).Once()
	f.notifier.On("SendAlert", mock.Anything).Return(nil)

	m := f.insert(t, models.Mention{ID: "m1", Text: "Having issues with login, can someone help?"})
	entries := f.svc.ProcessMention(context.Background(), m)

	entry := last(entries)
	assert.Equal(t, models.OutcomeSent, entry.Outcome)
	assert.Equal(t, "high", entry.RuleID)
	f.sender.AssertExpectations(t)

	stored, err := f.st.GetMention(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, stored.IsReplied)
	assert.Equal(t, models.SentimentNegative, stored.Sentiment)
	assert.Equal(t, models.PriorityHigh, stored.PriorityLevel)
}

func TestProcessMention_AnyRuleConfidence(t *testing.T) {
	f := newFixture(t, []models.AutoReplyRule{rule("auth", 5, "login", "password")})
	f.sender.On("Send", mock.Anything, mock.Anything, "m1").Return("tw-1", nil).Once()
	f.notifier.On("SendAlert", mock.Anything).Return(nil)

	m := f.insert(t, models.Mention{ID: "m1", Text: "Having issues with login, can someone help?"})
	entry := last(f.svc.ProcessMention(context.Background(), m))

	assert.Equal(t, models.OutcomeSent, entry.Outcome)
	assert.InDelta(t, 0.5, entry.Confidence, 1e-9)
	assert.Equal(t, []string{"login"}, entry.MatchedKeywords)
}

func TestProcessMention_NoMatch(t *testing.T) {
	all := rule("all", 5, "login", "help")
	all.MatchType = models.MatchAll
	all.Phrases = []string{"need help"}
	f := newFixture(t, []models.AutoReplyRule{all})
	f.notifier.On("SendAlert", mock.Anything).Return(nil)

	m := f.insert(t, models.Mention{ID: "m1", Text: "Having issues with login, can someone help?"})
	entry := last(f.svc.ProcessMention(context.Background(), m))

	assert.Equal(t, models.OutcomeNoMatch, entry.Outcome)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMention_HourlyLimit(t *testing.T) {
	limited := rule("limited", 5, "thanks")
	limited.MaxPerHour = models.Limit(2)
	f := newFixture(t, []models.AutoReplyRule{limited})
	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return("tw", nil)

	var outcomes []models.Outcome
	var reasons []string
	for _, id := range []string{"m1", "m2", "m3"} {
		m := f.insert(t, models.Mention{ID: id, Text: "thanks for the help"})
		entry := last(f.svc.ProcessMention(context.Background(), m))
		outcomes = append(outcomes, entry.Outcome)
		reasons = append(reasons, entry.Reason)
	}

	assert.Equal(t, []models.Outcome{models.OutcomeSent, models.OutcomeSent, models.OutcomeThrottled}, outcomes)
	assert.Equal(t, string(throttle.ReasonHourlyLimit), reasons[2])
	f.sender.AssertNumberOfCalls(t, "Send", 2)

	third, err := f.st.GetMention(context.Background(), "m3")
	require.NoError(t, err)
	assert.False(t, third.IsReplied)
	assert.Equal(t, models.OutcomeThrottled, third.Outcome, "a throttled mention is settled")
}

func TestProcessMention_SettledMentionIsLoggedOnce(t *testing.T) {
	paused := rule("paused", 1, "thanks")
	paused.MaxPerHour = models.Limit(0)

	tests := []struct {
		name    string
		rule    models.AutoReplyRule
		text    string
		settled models.Outcome
	}{
		{name: "no match", rule: rule("thanks", 1, "thanks"), text: "what is this", settled: models.OutcomeNoMatch},
		{name: "throttled", rule: paused, text: "thanks!", settled: models.OutcomeThrottled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []models.AutoReplyRule{tt.rule})
			ctx := context.Background()

			m := f.insert(t, models.Mention{ID: "m1", Text: tt.text})
			fresh := *m
			require.Equal(t, tt.settled, last(f.svc.ProcessMention(ctx, m)).Outcome)

			// the stored state wins over a copy fetched before settling
			again := f.svc.ProcessMention(ctx, &fresh)
			require.Len(t, again, 1)
			assert.Equal(t, models.OutcomeAlreadyProcessed, again[0].Outcome)
			assert.Equal(t, string(tt.settled), again[0].Reason)
			assert.Equal(t, tt.settled, fresh.Outcome)

			pending, err := f.st.ListPending(ctx, time.Time{})
			require.NoError(t, err)
			assert.Empty(t, pending)
			f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcessMention_CriticalMentionIsFlaggedAndAlerted(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return a.Type == "critical" && a.Mention != nil && a.Mention.ID == "m1"
	})).Return(nil).Once()

	m := f.insert(t, models.Mention{ID: "m1", Text: "this outage is terrible", AudienceSize: 50000})
	entries := f.svc.ProcessMention(context.Background(), m)

	require.Len(t, entries, 2)
	assert.Equal(t, models.OutcomeFlagged, entries[0].Outcome)
	assert.Contains(t, entries[0].Reason, "priority:critical")
	assert.Contains(t, entries[0].Reason, "keyword:outage")
	assert.Equal(t, models.OutcomeNoMatch, entries[1].Outcome)

	stored, err := f.st.GetMention(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, stored.PriorityLevel)
	assert.True(t, stored.IsFlagged)
	f.notifier.AssertExpectations(t)

	// reprocessing the settled mention neither re-flags nor re-alerts
	again := f.svc.ProcessMention(context.Background(), stored)
	require.Len(t, again, 1)
	assert.Equal(t, models.OutcomeAlreadyProcessed, again[0].Outcome)
	f.notifier.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestProcessMention_FlagAlertsCanBeDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.config.AlertFlagged = false

	m := f.insert(t, models.Mention{ID: "m1", Text: "lawsuit incoming"})
	entries := f.svc.ProcessMention(context.Background(), m)

	assert.Equal(t, models.OutcomeFlagged, entries[0].Outcome)
	f.notifier.AssertNotCalled(t, "SendAlert", mock.Anything)
}

func TestProcessMention_ReplayIsAlreadyReplied(t *testing.T) {
	f := newFixture(t, []models.AutoReplyRule{rule("thanks", 1, "thanks")})
	f.sender.On("Send", mock.Anything, mock.Anything, "m1").Return("tw-1", nil).Once()

	m := f.insert(t, models.Mention{ID: "m1", Text: "thanks!"})
	require.Equal(t, models.OutcomeSent, last(f.svc.ProcessMention(context.Background(), m)).Outcome)

	stored, err := f.st.GetMention(context.Background(), "m1")
	require.NoError(t, err)
	entries := f.svc.ProcessMention(context.Background(), stored)

	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeAlreadyReplied, entries[0].Outcome)
	assert.Equal(t, "thanks", entries[0].RuleID)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestProcessMention_ConcurrentReprocessingSendsOnce(t *testing.T) {
	f := newFixture(t, []models.AutoReplyRule{rule("thanks", 1, "thanks")})
	f.sender.On("Send", mock.Anything, mock.Anything, "m1").Return("tw-1", nil)
	m := f.insert(t, models.Mention{ID: "m1", Text: "thanks!"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copyOf := *m
			f.svc.ProcessMention(context.Background(), &copyOf)
		}()
	}
	wg.Wait()

	f.sender.AssertNumberOfCalls(t, "Send", 1)
	entries, err := f.st.ListEntries(context.Background(), models.Window{Start: time.Unix(0, 0), End: time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	sent := 0
	for _, e := range entries {
		if e.Outcome == models.OutcomeSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestRunBatch(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{
		{ID: "t1", AuthorHandle: "a", Text: "thanks team", CreatedAt: now.Add(-time.Hour)},
		{ID: "t2", AuthorHandle: "b", Text: "what is this", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "old", AuthorHandle: "c", Text: "thanks", CreatedAt: now.Add(-48 * time.Hour)},
	}}
	f := newFixture(t, []models.AutoReplyRule{rule("thanks", 1, "thanks")}, src)
	f.sender.On("Send", mock.Anything, mock.Anything, "t1").Return("tw-1", nil).Once()

	require.NoError(t, f.svc.RunBatch(context.Background()))
	f.sender.AssertExpectations(t)

	data, err := f.svc.GetMetrics()
	require.NoError(t, err)
	var metrics Metrics
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, 3, metrics.NewMentions)
	assert.Equal(t, 2, metrics.TotalMentions, "mentions outside the lookback window are not processed")
	assert.Equal(t, 3, metrics.SourceMetrics["fake"])
	assert.Equal(t, 1, metrics.OutcomeBreakdown[string(models.OutcomeSent)])
	assert.Equal(t, 1, metrics.OutcomeBreakdown[string(models.OutcomeNoMatch)])
	assert.Equal(t, now, metrics.LastRun)

	// a second batch only re-inserts; sent and unmatched mentions are settled
	require.NoError(t, f.svc.RunBatch(context.Background()))
	data, err = f.svc.GetMetrics()
	require.NoError(t, err)
	metrics = Metrics{}
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, 0, metrics.NewMentions)
	assert.Equal(t, 0, metrics.TotalMentions)
	assert.Empty(t, metrics.OutcomeBreakdown)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestRunBatch_ThrottledMentionIsNotRetried(t *testing.T) {
	limited := rule("limited", 5, "thanks")
	limited.MaxPerHour = models.Limit(2)
	src := &fakeSource{mentions: []models.Mention{
		{ID: "m1", AuthorHandle: "a", Text: "thanks team", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "m2", AuthorHandle: "b", Text: "thanks again", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "m3", AuthorHandle: "c", Text: "thanks a lot", CreatedAt: now.Add(-time.Hour)},
		{ID: "m4", AuthorHandle: "d", Text: "what is this", CreatedAt: now.Add(-30 * time.Minute)},
	}}
	f := newFixture(t, []models.AutoReplyRule{limited}, src)
	f.svc.config.Workers = 1
	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return("tw", nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RunBatch(ctx))
	f.sender.AssertNumberOfCalls(t, "Send", 2)
	third, err := f.st.GetMention(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeThrottled, third.Outcome)

	// next batch runs with an empty throttle window
	f.svc.dispatcher = dispatch.NewDispatcher(f.st, throttle.NewGuard(throttle.NewMemoryStore()), f.sender, time.Second)
	f.svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	require.NoError(t, f.svc.RunBatch(ctx))

	f.sender.AssertNumberOfCalls(t, "Send", 2)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, "m3")

	entries, err := f.st.ListEntries(ctx, models.Window{Start: time.Unix(0, 0), End: time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	byMention := make(map[string][]models.Outcome)
	for _, e := range entries {
		byMention[e.MentionID] = append(byMention[e.MentionID], e.Outcome)
	}
	assert.Equal(t, []models.Outcome{models.OutcomeThrottled}, byMention["m3"])
	assert.Equal(t, []models.Outcome{models.OutcomeNoMatch}, byMention["m4"])

	data, err := f.svc.GetMetrics()
	require.NoError(t, err)
	var metrics Metrics
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, 0, metrics.TotalMentions)
}

func TestRunBatch_SourceErrorKeepsPartialResults(t *testing.T) {
	src := &fakeSource{
		mentions: []models.Mention{{ID: "t1", AuthorHandle: "a", Text: "hello", CreatedAt: now.Add(-time.Hour)}},
		err:      assert.AnError,
	}
	f := newFixture(t, nil, src)

	require.NoError(t, f.svc.RunBatch(context.Background()))

	data, err := f.svc.GetMetrics()
	require.NoError(t, err)
	var metrics Metrics
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, 1, metrics.ErrorCount)
	assert.Equal(t, 1, metrics.TotalMentions)
}

func TestRunBatch_CancelledStartsNothing(t *testing.T) {
	f := newFixture(t, []models.AutoReplyRule{rule("thanks", 1, "thanks")})
	f.insert(t, models.Mention{ID: "m1", Text: "thanks"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.svc.RunBatch(ctx))

	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	stored, err := f.st.GetMention(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, stored.Sentiment)
}

func TestRunBatch_RejectsOverlap(t *testing.T) {
	src := &fakeSource{block: make(chan struct{}), called: make(chan struct{})}
	f := newFixture(t, nil, src)

	done := make(chan error, 1)
	go func() { done <- f.svc.RunBatch(context.Background()) }()

	<-src.called
	assert.True(t, f.svc.Running())
	assert.ErrorIs(t, f.svc.RunBatch(context.Background()), ErrBatchRunning)

	close(src.block)
	require.NoError(t, <-done)
	assert.False(t, f.svc.Running())
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return a.Type == "info" && a.Mention.ID == "late"
	})).Return(nil).Once()

	f.insert(t, models.Mention{ID: "late", Text: "hello there", CreatedAt: now.Add(-5 * time.Hour)})
	f.insert(t, models.Mention{ID: "fresh", Text: "hello there", CreatedAt: now.Add(-time.Hour)})

	n, err := f.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.st.GetMention(context.Background(), "late")
	require.NoError(t, err)
	assert.True(t, stored.IsFlagged)
	require.Len(t, stored.FlagReasons, 1)
	assert.Contains(t, stored.FlagReasons[0], "stale:")

	// the reason age grows but the flag is unchanged
	f.svc.now = func() time.Time { return now.Add(time.Hour) }
	n, err = f.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	f.notifier.AssertExpectations(t)
}

func TestSweepStale_RejectedWhileBatchRuns(t *testing.T) {
	src := &fakeSource{block: make(chan struct{}), called: make(chan struct{})}
	f := newFixture(t, nil, src)
	f.notifier.On("SendAlert", mock.Anything).Return(nil).Once()
	f.insert(t, models.Mention{ID: "late", Text: "hello there", CreatedAt: now.Add(-5 * time.Hour)})

	done := make(chan error, 1)
	go func() { done <- f.svc.RunBatch(context.Background()) }()
	<-src.called

	n, err := f.svc.SweepStale(context.Background())
	assert.ErrorIs(t, err, ErrBatchRunning)
	assert.Zero(t, n)

	close(src.block)
	require.NoError(t, <-done)

	// the batch flagged it; a sweep afterwards finds nothing new
	n, err = f.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := f.st.ListEntries(context.Background(), models.Window{Start: time.Unix(0, 0), End: time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	flagged := 0
	for _, e := range entries {
		if e.MentionID == "late" && e.Outcome == models.OutcomeFlagged {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
	f.notifier.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestSameReasons(t *testing.T) {
	assert.True(t, sameReasons([]string{"stale:5h0m0s"}, []string{"stale:6h0m0s"}))
	assert.True(t, sameReasons(nil, nil))
	assert.False(t, sameReasons([]string{"priority:high"}, []string{"priority:critical"}))
	assert.False(t, sameReasons([]string{"priority:high"}, nil))
}
