package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/rules"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender is a mock implementation of the Sender interface
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, text string, targetMentionID string) (string, error) {
	args := m.Called(ctx, text, targetMentionID)
	return args.String(0), args.Error(1)
}

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, sender Sender) (*Dispatcher, *store.MemoryStore, *models.Mention) {
	t.Helper()
	st := store.NewMemoryStore()
	m := &models.Mention{
		ID:           "m1",
		AuthorHandle: "jdoe",
		AuthorName:   "Jane",
		Text:         "the app crashed again",
		CreatedAt:    now.Add(-time.Minute),
		Sentiment:    models.SentimentNegative,
	}
	_, err := st.InsertIfAbsent(context.Background(), m)
	require.NoError(t, err)

	d := NewDispatcher(st, throttle.NewGuard(throttle.NewMemoryStore()), sender, time.Second)
	d.now = func() time.Time { return now }
	return d, st, m
}

func candidate(maxPerHour *int) rules.Candidate {
	return rules.Candidate{
		Rule: models.AutoReplyRule{
			ID:               "support",
			Name:             "Support",
			Keywords:         []string{"crash"},
			MatchType:        models.MatchAny,
			ResponseTemplate: "Hi @{{author_username}}, sorry about that! Ticket {{ticket_id}}",
			IsActive:         true,
			MaxPerHour:       maxPerHour,
		},
		Confidence:      1,
		MatchedKeywords: []string{"crash"},
	}
}

func TestDispatch_Sent(t *testing.T) {
	sender := &MockSender{}
	d, st, m := setup(t, sender)
	sender.On("Send", mock.Anything, "Hi @jdoe, sorry about that! Ticket {{ticket_id}}", "m1").Return("tw-99", nil).Once()

	entry := d.Dispatch(context.Background(), m, candidate(nil))

	assert.Equal(t, models.OutcomeSent, entry.Outcome)
	assert.Equal(t, "support", entry.RuleID)
	assert.Equal(t, "m1", entry.MentionID)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, []string{"ticket_id"}, entry.UnresolvedVariables)
	assert.Equal(t, []string{"crash"}, entry.MatchedKeywords)
	assert.Equal(t, now, entry.CreatedAt)

	assert.True(t, m.IsReplied)
	require.NotNil(t, m.Reply)
	assert.Equal(t, "tw-99", m.Reply.ExternalID)

	stored, err := st.GetMention(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, stored.IsReplied)
	assert.Equal(t, "support", stored.Reply.RuleID)
	sender.AssertExpectations(t)
}

func TestDispatch_AlreadyRepliedDoesNotSend(t *testing.T) {
	sender := &MockSender{}
	d, _, m := setup(t, sender)
	sender.On("Send", mock.Anything, mock.Anything, "m1").Return("tw-1", nil).Once()

	first := d.Dispatch(context.Background(), m, candidate(nil))
	second := d.Dispatch(context.Background(), m, candidate(nil))

	assert.Equal(t, models.OutcomeSent, first.Outcome)
	assert.Equal(t, models.OutcomeAlreadyReplied, second.Outcome)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatch_ThrottledSettlesMention(t *testing.T) {
	sender := &MockSender{}
	d, st, _ := setup(t, sender)
	ctx := context.Background()
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return("tw-1", nil).Once()

	other := &models.Mention{ID: "m0", AuthorHandle: "a", Text: "crash", CreatedAt: now.Add(-2 * time.Minute)}
	_, err := st.InsertIfAbsent(ctx, other)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeSent, d.Dispatch(ctx, other, candidate(models.Limit(1))).Outcome)

	m, err := st.GetMention(ctx, "m1")
	require.NoError(t, err)
	entry := d.Dispatch(ctx, m, candidate(models.Limit(1)))

	assert.Equal(t, models.OutcomeThrottled, entry.Outcome)
	assert.Equal(t, string(throttle.ReasonHourlyLimit), entry.Reason)
	assert.Empty(t, entry.RenderedResponse)
	assert.False(t, m.IsReplied)
	assert.Equal(t, models.OutcomeThrottled, m.Outcome)

	// throttled is final: the mention is neither pending nor reservable
	stored, err := st.GetMention(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeThrottled, stored.Outcome)
	ok, err := st.TryReserve(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a later dispatch with a free window still does not send
	d.now = func() time.Time { return now.Add(2 * time.Hour) }
	again := d.Dispatch(ctx, m, candidate(models.Limit(1)))
	assert.NotEqual(t, models.OutcomeSent, again.Outcome)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatch_SendFailure(t *testing.T) {
	sender := &MockSender{}
	d, st, m := setup(t, sender)
	ctx := context.Background()
	sender.On("Send", mock.Anything, mock.Anything, "m1").Return("", errors.New("503 service unavailable")).Once()

	entry := d.Dispatch(ctx, m, candidate(nil))

	assert.Equal(t, models.OutcomeSendFailed, entry.Outcome)
	assert.Contains(t, entry.Reason, "503")
	assert.NotEmpty(t, entry.RenderedResponse)
	assert.False(t, m.IsReplied)

	stored, err := st.GetMention(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, stored.IsReplied)
	ok, err := st.TryReserve(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok, "failed sends release the mention")
}

func TestDispatch_SendHonoursTimeout(t *testing.T) {
	sender := &MockSender{}
	d, _, m := setup(t, sender)
	d.timeout = 20 * time.Millisecond

	sender.On("Send", mock.Anything, mock.Anything, "m1").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		<-ctx.Done()
	}).Return("", context.DeadlineExceeded).Once()

	entry := d.Dispatch(context.Background(), m, candidate(nil))
	assert.Equal(t, models.OutcomeSendFailed, entry.Outcome)
	assert.Contains(t, entry.Reason, "deadline")
}

func TestDispatch_UnknownMentionIsFailure(t *testing.T) {
	sender := &MockSender{}
	d, _, _ := setup(t, sender)

	ghost := &models.Mention{ID: "ghost", AuthorHandle: "x", CreatedAt: now}
	entry := d.Dispatch(context.Background(), ghost, candidate(nil))

	assert.Equal(t, models.OutcomeSendFailed, entry.Outcome)
	assert.Contains(t, entry.Reason, "reserve")
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_ConcurrentDispatchSendsOnce(t *testing.T) {
	sender := &MockSender{}
	d, _, m := setup(t, sender)
	sender.On("Send", mock.Anything, mock.Anything, "m1").Return("tw-1", nil)

	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, 10)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := *m
			outcomes[i] = d.Dispatch(context.Background(), &local, candidate(nil)).Outcome
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, o := range outcomes {
		if o == models.OutcomeSent {
			sent++
		} else {
			assert.Equal(t, models.OutcomeAlreadyReplied, o)
		}
	}
	assert.Equal(t, 1, sent)
	sender.AssertNumberOfCalls(t, "Send", 1)
}
