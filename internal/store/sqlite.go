package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/migrations"
)

// SQLiteStore implements Store on a single SQLite database file
type SQLiteStore struct {
	db *sqlx.DB
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and applies pending migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps the
	// conditional updates below race free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyMigrations(db.DB); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.Errorf("Error closing database after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logrus.WithField("path", path).Info("Database connected and migrations applied")
	return &SQLiteStore{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create embedded migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logrus.Debug("No database migrations to apply")
			return nil
		}
		return err
	}
	logrus.Info("Database migrations applied")
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type mentionRow struct {
	ID              string         `db:"id"`
	Source          string         `db:"source"`
	AuthorHandle    string         `db:"author_handle"`
	AuthorName      string         `db:"author_name"`
	Text            string         `db:"text"`
	URL             string         `db:"url"`
	CreatedAt       int64          `db:"created_at"`
	IngestedAt      int64          `db:"ingested_at"`
	AudienceSize    int64          `db:"audience_size"`
	Sentiment       string         `db:"sentiment"`
	PriorityScore   float64        `db:"priority_score"`
	PriorityLevel   string         `db:"priority_level"`
	IsFlagged       bool           `db:"is_flagged"`
	FlagReasons     string         `db:"flag_reasons"`
	ReplyState      string         `db:"reply_state"`
	ReplyRuleID     sql.NullString `db:"reply_rule_id"`
	RepliedAt       sql.NullInt64  `db:"replied_at"`
	ReplyExternalID sql.NullString `db:"reply_external_id"`
}

const mentionColumns = `id, source, author_handle, author_name, text, url, created_at, ingested_at,
	audience_size, sentiment, priority_score, priority_level, is_flagged, flag_reasons,
	reply_state, reply_rule_id, replied_at, reply_external_id`

const insertMention = `INSERT INTO mentions (` + mentionColumns + `) VALUES (
	:id, :source, :author_handle, :author_name, :text, :url, :created_at, :ingested_at,
	:audience_size, :sentiment, :priority_score, :priority_level, :is_flagged, :flag_reasons,
	:reply_state, :reply_rule_id, :replied_at, :reply_external_id)`

func toMentionRow(m *models.Mention) (mentionRow, error) {
	reasons, err := encodeList(m.FlagReasons)
	if err != nil {
		return mentionRow{}, err
	}
	row := mentionRow{
		ID:            m.ID,
		Source:        m.Source,
		AuthorHandle:  m.AuthorHandle,
		AuthorName:    m.AuthorName,
		Text:          m.Text,
		URL:           m.URL,
		CreatedAt:     toNanos(m.CreatedAt),
		IngestedAt:    toNanos(m.IngestedAt),
		AudienceSize:  m.AudienceSize,
		Sentiment:     string(m.Sentiment),
		PriorityScore: m.PriorityScore,
		PriorityLevel: string(m.PriorityLevel),
		IsFlagged:     m.IsFlagged,
		FlagReasons:   reasons,
		ReplyState:    replyStateNone,
	}
	if state, err := outcomeState(m.Outcome); err == nil {
		row.ReplyState = state
	}
	if m.IsReplied && m.Reply != nil {
		row.ReplyState = replyStateReplied
		row.ReplyRuleID = sql.NullString{String: m.Reply.RuleID, Valid: true}
		row.RepliedAt = sql.NullInt64{Int64: toNanos(m.Reply.RepliedAt), Valid: true}
		row.ReplyExternalID = sql.NullString{String: m.Reply.ExternalID, Valid: true}
	}
	return row, nil
}

func (r mentionRow) toModel() (models.Mention, error) {
	m := models.Mention{
		ID:            r.ID,
		Source:        r.Source,
		AuthorHandle:  r.AuthorHandle,
		AuthorName:    r.AuthorName,
		Text:          r.Text,
		URL:           r.URL,
		CreatedAt:     fromNanos(r.CreatedAt),
		IngestedAt:    fromNanos(r.IngestedAt),
		AudienceSize:  r.AudienceSize,
		Sentiment:     models.Sentiment(r.Sentiment),
		PriorityScore: r.PriorityScore,
		PriorityLevel: models.PriorityLevel(r.PriorityLevel),
		IsFlagged:     r.IsFlagged,
		IsReplied:     r.ReplyState == replyStateReplied,
		Outcome:       stateOutcome(r.ReplyState),
	}
	reasons, err := decodeList(r.FlagReasons)
	if err != nil {
		return models.Mention{}, fmt.Errorf("mention %s flag reasons: %w", r.ID, err)
	}
	m.FlagReasons = reasons
	if m.IsReplied {
		m.Reply = &models.ReplyMetadata{
			RuleID:     r.ReplyRuleID.String,
			RepliedAt:  fromNanos(r.RepliedAt.Int64),
			ExternalID: r.ReplyExternalID.String,
		}
	}
	return m, nil
}

func (s *SQLiteStore) GetMention(ctx context.Context, id string) (*models.Mention, error) {
	var row mentionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+mentionColumns+` FROM mentions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mention %s: %w", id, err)
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) SaveMention(ctx context.Context, m *models.Mention) error {
	if err := models.ValidateMention(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m.IngestedAt.IsZero() {
		m.IngestedAt = time.Now().UTC()
	}
	row, err := toMentionRow(m)
	if err != nil {
		return err
	}

	query := insertMention + ` ON CONFLICT(id) DO UPDATE SET
		source = excluded.source,
		author_handle = excluded.author_handle,
		author_name = excluded.author_name,
		text = excluded.text,
		url = excluded.url,
		created_at = excluded.created_at,
		audience_size = excluded.audience_size,
		sentiment = excluded.sentiment,
		priority_score = excluded.priority_score,
		priority_level = excluded.priority_level,
		is_flagged = excluded.is_flagged,
		flag_reasons = excluded.flag_reasons`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save mention %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, m *models.Mention) (bool, error) {
	if err := models.ValidateMention(m); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m.IngestedAt.IsZero() {
		m.IngestedAt = time.Now().UTC()
	}
	row, err := toMentionRow(m)
	if err != nil {
		return false, err
	}

	res, err := s.db.NamedExecContext(ctx, insertMention+` ON CONFLICT(id) DO NOTHING`, row)
	if err != nil {
		return false, fmt.Errorf("failed to insert mention %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) TryReserve(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mentions SET reply_state = ? WHERE id = ? AND reply_state = ?`,
		replyStateInFlight, id, replyStateNone)
	if err != nil {
		return false, fmt.Errorf("failed to reserve mention %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if err := s.mustExist(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) MarkReplied(ctx context.Context, id string, reply models.ReplyMetadata) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mentions SET reply_state = ?, reply_rule_id = ?, replied_at = ?, reply_external_id = ?
		 WHERE id = ? AND reply_state = ?`,
		replyStateReplied, reply.RuleID, toNanos(reply.RepliedAt), reply.ExternalID, id, replyStateInFlight)
	if err != nil {
		return fmt.Errorf("failed to mark mention %s replied: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("mention %s: %w", id, ErrNotReserved)
}

func (s *SQLiteStore) MarkOutcome(ctx context.Context, id string, outcome models.Outcome) error {
	state, err := outcomeState(outcome)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mentions SET reply_state = ? WHERE id = ? AND reply_state IN (?, ?)`,
		state, id, replyStateNone, replyStateInFlight)
	if err != nil {
		return fmt.Errorf("failed to settle mention %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mentions SET reply_state = ? WHERE id = ? AND reply_state = ?`,
		replyStateNone, id, replyStateInFlight)
	if err != nil {
		return fmt.Errorf("failed to release mention %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

func (s *SQLiteStore) mustExist(ctx context.Context, id string) error {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM mentions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up mention %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, since time.Time) ([]models.Mention, error) {
	return s.selectMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE reply_state = ? AND created_at >= ?
		 ORDER BY created_at ASC, rowid ASC`,
		replyStateNone, toNanos(since))
}

func (s *SQLiteStore) ListUnreplied(ctx context.Context, since time.Time) ([]models.Mention, error) {
	return s.selectMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE reply_state <> ? AND created_at >= ?
		 ORDER BY created_at ASC, rowid ASC`,
		replyStateReplied, toNanos(since))
}

func (s *SQLiteStore) ListMentions(ctx context.Context, w models.Window) ([]models.Mention, error) {
	return s.selectMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, rowid ASC`,
		toNanos(w.Start), toNanos(w.End))
}

func (s *SQLiteStore) selectMentions(ctx context.Context, query string, args ...any) ([]models.Mention, error) {
	var rows []mentionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	out := make([]models.Mention, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type ruleRow struct {
	ID               string        `db:"id"`
	Name             string        `db:"name"`
	Keywords         string        `db:"keywords"`
	Phrases          string        `db:"phrases"`
	MatchType        string        `db:"match_type"`
	ResponseTemplate string        `db:"response_template"`
	Priority         int           `db:"priority"`
	IsActive         bool          `db:"is_active"`
	SentimentFilter  string        `db:"sentiment_filter"`
	MaxPerHour       sql.NullInt64 `db:"max_per_hour"`
	MaxPerDay        sql.NullInt64 `db:"max_per_day"`
	CooldownMinutes  int           `db:"cooldown_minutes"`
	CreatedAt        int64         `db:"created_at"`
}

const ruleColumns = `id, name, keywords, phrases, match_type, response_template, priority,
	is_active, sentiment_filter, max_per_hour, max_per_day, cooldown_minutes, created_at`

func (r ruleRow) toModel() (models.AutoReplyRule, error) {
	rule := models.AutoReplyRule{
		ID:               r.ID,
		Name:             r.Name,
		MatchType:        models.MatchType(r.MatchType),
		ResponseTemplate: r.ResponseTemplate,
		Priority:         r.Priority,
		IsActive:         r.IsActive,
		MaxPerHour:       fromNullLimit(r.MaxPerHour),
		MaxPerDay:        fromNullLimit(r.MaxPerDay),
		CooldownMinutes:  r.CooldownMinutes,
		CreatedAt:        fromNanos(r.CreatedAt),
	}
	var err error
	if rule.Keywords, err = decodeList(r.Keywords); err != nil {
		return rule, fmt.Errorf("rule %s keywords: %w", r.ID, err)
	}
	if rule.Phrases, err = decodeList(r.Phrases); err != nil {
		return rule, fmt.Errorf("rule %s phrases: %w", r.ID, err)
	}
	filter, err := decodeList(r.SentimentFilter)
	if err != nil {
		return rule, fmt.Errorf("rule %s sentiment filter: %w", r.ID, err)
	}
	for _, f := range filter {
		rule.SentimentFilter = append(rule.SentimentFilter, models.Sentiment(f))
	}
	return rule, nil
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	return s.selectRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active = 1 ORDER BY created_at ASC, rowid ASC`)
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	return s.selectRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at ASC, rowid ASC`)
}

func (s *SQLiteStore) selectRules(ctx context.Context, query string) ([]models.AutoReplyRule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	out := make([]models.AutoReplyRule, 0, len(rows))
	for _, r := range rows {
		rule, err := r.toModel()
		if err != nil {
			// one corrupt row must not disable every other rule
			logrus.WithField("rule_id", r.ID).Warnf("Skipping undecodable rule: %v", err)
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*models.AutoReplyRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	rule, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *SQLiteStore) SaveRule(ctx context.Context, rule *models.AutoReplyRule) error {
	if err := models.ValidateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	filter := make([]string, 0, len(rule.SentimentFilter))
	for _, f := range rule.SentimentFilter {
		filter = append(filter, string(f))
	}
	row := ruleRow{
		ID:               rule.ID,
		Name:             rule.Name,
		MatchType:        string(rule.MatchType),
		ResponseTemplate: rule.ResponseTemplate,
		Priority:         rule.Priority,
		IsActive:         rule.IsActive,
		MaxPerHour:       toNullLimit(rule.MaxPerHour),
		MaxPerDay:        toNullLimit(rule.MaxPerDay),
		CooldownMinutes:  rule.CooldownMinutes,
		CreatedAt:        toNanos(rule.CreatedAt),
	}
	var err error
	if row.Keywords, err = encodeList(rule.Keywords); err != nil {
		return err
	}
	if row.Phrases, err = encodeList(rule.Phrases); err != nil {
		return err
	}
	if row.SentimentFilter, err = encodeList(filter); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logrus.Warnf("Error rolling back rule transaction: %v", rbErr)
		}
	}()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO rules (`+ruleColumns+`) VALUES (
		:id, :name, :keywords, :phrases, :match_type, :response_template, :priority,
		:is_active, :sentiment_filter, :max_per_hour, :max_per_day, :cooldown_minutes, :created_at)
		ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		keywords = excluded.keywords,
		phrases = excluded.phrases,
		match_type = excluded.match_type,
		response_template = excluded.response_template,
		priority = excluded.priority,
		is_active = excluded.is_active,
		sentiment_filter = excluded.sentiment_filter,
		max_per_hour = excluded.max_per_hour,
		max_per_day = excluded.max_per_day,
		cooldown_minutes = excluded.cooldown_minutes`, row)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}

	var createdAt int64
	if err := tx.GetContext(ctx, &createdAt, `SELECT created_at FROM rules WHERE id = ?`, rule.ID); err != nil {
		return fmt.Errorf("failed to read rule %s: %w", rule.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule %s: %w", rule.ID, err)
	}
	rule.CreatedAt = fromNanos(createdAt)
	return nil
}

type entryRow struct {
	ID                  string  `db:"id"`
	MentionID           string  `db:"mention_id"`
	RuleID              string  `db:"rule_id"`
	Outcome             string  `db:"outcome"`
	Reason              string  `db:"reason"`
	Confidence          float64 `db:"confidence"`
	MatchedKeywords     string  `db:"matched_keywords"`
	MatchedPhrases      string  `db:"matched_phrases"`
	RenderedResponse    string  `db:"rendered_response"`
	UnresolvedVariables string  `db:"unresolved_variables"`
	CreatedAt           int64   `db:"created_at"`
}

const entryColumns = `id, mention_id, rule_id, outcome, reason, confidence, matched_keywords,
	matched_phrases, rendered_response, unresolved_variables, created_at`

func (s *SQLiteStore) Append(ctx context.Context, entry *models.ReplyLogEntry) error {
	if entry == nil || entry.ID == "" || entry.MentionID == "" {
		return fmt.Errorf("%w: reply log entry needs an id and a mention id", ErrInvalid)
	}
	row := entryRow{
		ID:               entry.ID,
		MentionID:        entry.MentionID,
		RuleID:           entry.RuleID,
		Outcome:          string(entry.Outcome),
		Reason:           entry.Reason,
		Confidence:       entry.Confidence,
		RenderedResponse: entry.RenderedResponse,
		CreatedAt:        toNanos(entry.CreatedAt),
	}
	var err error
	if row.MatchedKeywords, err = encodeList(entry.MatchedKeywords); err != nil {
		return err
	}
	if row.MatchedPhrases, err = encodeList(entry.MatchedPhrases); err != nil {
		return err
	}
	if row.UnresolvedVariables, err = encodeList(entry.UnresolvedVariables); err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO reply_log (`+entryColumns+`) VALUES (
		:id, :mention_id, :rule_id, :outcome, :reason, :confidence, :matched_keywords,
		:matched_phrases, :rendered_response, :unresolved_variables, :created_at)`, row)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate reply log entry for mention %s: %v", ErrInvalid, entry.MentionID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to append reply log entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, w models.Window) ([]models.ReplyLogEntry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+entryColumns+` FROM reply_log
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, rowid ASC`,
		toNanos(w.Start), toNanos(w.End))
	if err != nil {
		return nil, fmt.Errorf("failed to list reply log entries: %w", err)
	}

	out := make([]models.ReplyLogEntry, 0, len(rows))
	for _, r := range rows {
		e := models.ReplyLogEntry{
			ID:               r.ID,
			MentionID:        r.MentionID,
			RuleID:           r.RuleID,
			Outcome:          models.Outcome(r.Outcome),
			Reason:           r.Reason,
			Confidence:       r.Confidence,
			RenderedResponse: r.RenderedResponse,
			CreatedAt:        fromNanos(r.CreatedAt),
		}
		if e.MatchedKeywords, err = decodeList(r.MatchedKeywords); err != nil {
			return nil, fmt.Errorf("entry %s keywords: %w", r.ID, err)
		}
		if e.MatchedPhrases, err = decodeList(r.MatchedPhrases); err != nil {
			return nil, fmt.Errorf("entry %s phrases: %w", r.ID, err)
		}
		if e.UnresolvedVariables, err = decodeList(r.UnresolvedVariables); err != nil {
			return nil, fmt.Errorf("entry %s variables: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toNullLimit(limit *int) sql.NullInt64 {
	if limit == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*limit), Valid: true}
}

func fromNullLimit(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return models.Limit(int(n.Int64))
}

// toNanos stores the zero time as 0 so that it round-trips through fromNanos
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
