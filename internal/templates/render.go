// Package templates renders auto-reply responses by substituting
// {{variable}} placeholders. Unknown placeholders are left verbatim.
package templates

import (
	"regexp"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

// Declared variable names
const (
	VarAuthorUsername = "author_username"
	VarAuthorName     = "author_name"
	VarMentionText    = "mention_text"
	VarMentionID      = "mention_id"
	VarSentiment      = "sentiment"
	VarPriorityLevel  = "priority_level"
	VarRuleName       = "rule_name"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Result is a rendered template
type Result struct {
	Text       string
	Unresolved []string // placeholder names with no value, in order of first appearance
}

// Render substitutes vars into tmpl. It never fails.
func Render(tmpl string, vars map[string]string) Result {
	var unresolved []string
	seen := make(map[string]bool)

	text := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			unresolved = append(unresolved, name)
		}
		return match
	})

	return Result{Text: text, Unresolved: unresolved}
}

// MentionVars builds the declared variable set for a mention and rule.
// Fields that are empty on the mention are omitted so they show up as unresolved.
func MentionVars(m *models.Mention, rule *models.AutoReplyRule) map[string]string {
	vars := make(map[string]string, 7)
	set := func(k, v string) {
		if v != "" {
			vars[k] = v
		}
	}

	if m != nil {
		set(VarAuthorUsername, m.AuthorHandle)
		set(VarAuthorName, m.AuthorName)
		set(VarMentionText, m.Text)
		set(VarMentionID, m.ID)
		set(VarSentiment, string(m.Sentiment))
		set(VarPriorityLevel, string(m.PriorityLevel))
	}
	if rule != nil {
		set(VarRuleName, rule.Name)
	}
	return vars
}
