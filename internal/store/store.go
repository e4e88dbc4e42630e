// Package store persists mentions, auto-reply rules and the reply log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned when a record fails validation
	ErrInvalid = errors.New("invalid record")
	// ErrNotReserved is returned by MarkReplied when the mention was not reserved first
	ErrNotReserved = errors.New("mention not reserved")
)

// Reply states of a mention. A mention moves none -> in_flight -> replied,
// or back to none when the reservation is released after a failed send.
// no_match and throttled are terminal like replied.
const (
	replyStateNone      = "none"
	replyStateInFlight  = "in_flight"
	replyStateReplied   = "replied"
	replyStateNoMatch   = "no_match"
	replyStateThrottled = "throttled"
)

// stateOutcome maps a reply state to the terminal outcome it stands for
func stateOutcome(state string) models.Outcome {
	switch state {
	case replyStateReplied:
		return models.OutcomeSent
	case replyStateNoMatch:
		return models.OutcomeNoMatch
	case replyStateThrottled:
		return models.OutcomeThrottled
	}
	return ""
}

// outcomeState is the reply state MarkOutcome stores for outcome
func outcomeState(outcome models.Outcome) (string, error) {
	switch outcome {
	case models.OutcomeNoMatch:
		return replyStateNoMatch, nil
	case models.OutcomeThrottled:
		return replyStateThrottled, nil
	}
	return "", fmt.Errorf("%w: %q is not a terminal outcome without a reply", ErrInvalid, outcome)
}

// RuleRepository gives access to auto-reply rules
type RuleRepository interface {
	// ListActiveRules returns active rules ordered by creation time ascending
	ListActiveRules(ctx context.Context) ([]models.AutoReplyRule, error)
	ListRules(ctx context.Context) ([]models.AutoReplyRule, error)
	GetRule(ctx context.Context, id string) (*models.AutoReplyRule, error)
	// SaveRule validates, normalizes and upserts a rule. CreatedAt is kept on update.
	SaveRule(ctx context.Context, rule *models.AutoReplyRule) error
}

// MentionRepository gives access to mentions and their reply state
type MentionRepository interface {
	GetMention(ctx context.Context, id string) (*models.Mention, error)
	// SaveMention upserts the mention's content and analysis fields.
	// Reply state is only changed through TryReserve, MarkReplied and Release.
	SaveMention(ctx context.Context, m *models.Mention) error
	// InsertIfAbsent stores a newly ingested mention and reports whether it was new
	InsertIfAbsent(ctx context.Context, m *models.Mention) (bool, error)
	// TryReserve marks an unreplied mention as in flight. It returns false
	// when the mention is already replied or reserved by another worker.
	TryReserve(ctx context.Context, id string) (bool, error)
	MarkReplied(ctx context.Context, id string, reply models.ReplyMetadata) error
	// MarkOutcome settles a pending or reserved mention as no_match or
	// matched_throttled. Mentions already settled are left unchanged.
	MarkOutcome(ctx context.Context, id string, outcome models.Outcome) error
	Release(ctx context.Context, id string) error
	// ListPending returns unsettled, unreserved mentions created at or after since
	ListPending(ctx context.Context, since time.Time) ([]models.Mention, error)
	// ListUnreplied returns mentions without a reply created at or after since,
	// including those settled as no_match or matched_throttled
	ListUnreplied(ctx context.Context, since time.Time) ([]models.Mention, error)
	// ListMentions returns mentions created within the window, oldest first
	ListMentions(ctx context.Context, w models.Window) ([]models.Mention, error)
}

// ReplyLogRepository is the append-only audit log
type ReplyLogRepository interface {
	Append(ctx context.Context, entry *models.ReplyLogEntry) error
	// ListEntries returns entries created within the window in append order
	ListEntries(ctx context.Context, w models.Window) ([]models.ReplyLogEntry, error)
}

// Store bundles all repositories
type Store interface {
	RuleRepository
	MentionRepository
	ReplyLogRepository
	Close() error
}
