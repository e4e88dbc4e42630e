package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

// MemoryStore is an in-process Store used by tests and the dry-run tooling
type MemoryStore struct {
	mu         sync.Mutex
	mentions   map[string]*mentionRecord
	rules      map[string]models.AutoReplyRule
	ruleOrder  []string
	entries    []models.ReplyLogEntry
	mentionSeq int
}

type mentionRecord struct {
	mention models.Mention
	state   string
	seq     int
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mentions: make(map[string]*mentionRecord),
		rules:    make(map[string]models.AutoReplyRule),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ListActiveRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	all, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (s *MemoryStore) ListRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AutoReplyRule, 0, len(s.ruleOrder))
	for _, id := range s.ruleOrder {
		out = append(out, copyRule(s.rules[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetRule(ctx context.Context, id string) (*models.AutoReplyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	r = copyRule(r)
	return &r, nil
}

func (s *MemoryStore) SaveRule(ctx context.Context, rule *models.AutoReplyRule) error {
	if err := models.ValidateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now().UTC()
		}
		s.ruleOrder = append(s.ruleOrder, rule.ID)
	}
	s.rules[rule.ID] = copyRule(*rule)
	return nil
}

func (s *MemoryStore) GetMention(ctx context.Context, id string) (*models.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	m := rec.snapshot()
	return &m, nil
}

func (s *MemoryStore) SaveMention(ctx context.Context, m *models.Mention) error {
	if err := models.ValidateMention(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[m.ID]
	if !ok {
		s.insertLocked(m)
		return nil
	}

	// keep reply fields owned by the reservation methods
	updated := copyMention(*m)
	updated.IsReplied = rec.mention.IsReplied
	updated.Reply = rec.mention.Reply
	if updated.IngestedAt.IsZero() {
		updated.IngestedAt = rec.mention.IngestedAt
	}
	rec.mention = updated
	return nil
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, m *models.Mention) (bool, error) {
	if err := models.ValidateMention(m); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mentions[m.ID]; ok {
		return false, nil
	}
	s.insertLocked(m)
	return true, nil
}

func (s *MemoryStore) insertLocked(m *models.Mention) {
	if m.IngestedAt.IsZero() {
		m.IngestedAt = time.Now().UTC()
	}
	rec := &mentionRecord{mention: copyMention(*m), state: replyStateNone, seq: s.mentionSeq}
	if state, err := outcomeState(m.Outcome); err == nil {
		rec.state = state
	}
	if m.IsReplied {
		rec.state = replyStateReplied
	}
	s.mentionSeq++
	s.mentions[m.ID] = rec
}

func (s *MemoryStore) TryReserve(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[id]
	if !ok {
		return false, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if rec.state != replyStateNone {
		return false, nil
	}
	rec.state = replyStateInFlight
	return true, nil
}

func (s *MemoryStore) MarkReplied(ctx context.Context, id string, reply models.ReplyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if rec.state != replyStateInFlight {
		return fmt.Errorf("mention %s: %w", id, ErrNotReserved)
	}
	rec.state = replyStateReplied
	rec.mention.IsReplied = true
	rec.mention.Reply = &reply
	return nil
}

func (s *MemoryStore) MarkOutcome(ctx context.Context, id string, outcome models.Outcome) error {
	state, err := outcomeState(outcome)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if rec.state == replyStateNone || rec.state == replyStateInFlight {
		rec.state = state
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if rec.state == replyStateInFlight {
		rec.state = replyStateNone
	}
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, since time.Time) ([]models.Mention, error) {
	return s.listMentions(func(rec *mentionRecord) bool {
		return rec.state == replyStateNone && !rec.mention.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) ListUnreplied(ctx context.Context, since time.Time) ([]models.Mention, error) {
	return s.listMentions(func(rec *mentionRecord) bool {
		return rec.state != replyStateReplied && !rec.mention.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) ListMentions(ctx context.Context, w models.Window) ([]models.Mention, error) {
	return s.listMentions(func(rec *mentionRecord) bool {
		return w.Contains(rec.mention.CreatedAt)
	}), nil
}

func (s *MemoryStore) listMentions(keep func(*mentionRecord) bool) []models.Mention {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*mentionRecord, 0, len(s.mentions))
	for _, rec := range s.mentions {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].mention.CreatedAt, recs[j].mention.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return recs[i].seq < recs[j].seq
	})

	out := make([]models.Mention, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out
}

func (s *MemoryStore) Append(ctx context.Context, entry *models.ReplyLogEntry) error {
	if entry == nil || entry.ID == "" || entry.MentionID == "" {
		return fmt.Errorf("%w: reply log entry needs an id and a mention id", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Outcome == models.OutcomeSent {
		for _, e := range s.entries {
			if e.MentionID == entry.MentionID && e.Outcome == models.OutcomeSent {
				return fmt.Errorf("%w: mention %s already has a sent entry", ErrInvalid, entry.MentionID)
			}
		}
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, w models.Window) ([]models.ReplyLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ReplyLogEntry
	for _, e := range s.entries {
		if w.Contains(e.CreatedAt) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (rec *mentionRecord) snapshot() models.Mention {
	m := copyMention(rec.mention)
	m.Outcome = stateOutcome(rec.state)
	return m
}

func copyMention(m models.Mention) models.Mention {
	if m.FlagReasons != nil {
		m.FlagReasons = append([]string(nil), m.FlagReasons...)
	}
	if m.Reply != nil {
		reply := *m.Reply
		m.Reply = &reply
	}
	return m
}

func copyRule(r models.AutoReplyRule) models.AutoReplyRule {
	r.Keywords = append([]string(nil), r.Keywords...)
	r.Phrases = append([]string(nil), r.Phrases...)
	r.SentimentFilter = append([]models.Sentiment(nil), r.SentimentFilter...)
	if r.MaxPerHour != nil {
		r.MaxPerHour = models.Limit(*r.MaxPerHour)
	}
	if r.MaxPerDay != nil {
		r.MaxPerDay = models.Limit(*r.MaxPerDay)
	}
	return r
}
