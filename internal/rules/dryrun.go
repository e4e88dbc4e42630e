package rules

import (
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/templates"
)

// TestResult is the response of a dry-run evaluation
type TestResult struct {
	Matched             bool     `json:"matched"`
	Confidence          float64  `json:"confidence"`
	MatchedKeywords     []string `json:"matchedKeywords"`
	MatchedPhrases      []string `json:"matchedPhrases"`
	ResponseText        string   `json:"responseText"`
	UnresolvedVariables []string `json:"unresolvedVariables,omitempty"`
}

// DryRun evaluates rule against arbitrary text with the same matching used
// for live processing. It has no side effects.
//
// The rule's active flag is ignored so drafts can be tested. When sentiment
// is set and the rule's filter excludes it, the result is not matched.
// The response is rendered only on a match.
func DryRun(rule models.AutoReplyRule, text string, sentiment models.Sentiment, mention *models.Mention) TestResult {
	result := TestResult{
		MatchedKeywords: []string{},
		MatchedPhrases:  []string{},
	}

	if sentiment != "" && !rule.AllowsSentiment(sentiment) {
		return result
	}

	ev := Evaluate(rule, text)
	if !ev.Matched {
		return result
	}

	result.Matched = true
	result.Confidence = ev.Confidence
	if ev.MatchedKeywords != nil {
		result.MatchedKeywords = ev.MatchedKeywords
	}
	if ev.MatchedPhrases != nil {
		result.MatchedPhrases = ev.MatchedPhrases
	}

	if mention == nil {
		mention = &models.Mention{}
	}
	m := *mention
	m.Text = text
	if m.Sentiment == "" {
		m.Sentiment = sentiment
	}

	rendered := templates.Render(rule.ResponseTemplate, templates.MentionVars(&m, &rule))
	result.ResponseText = rendered.Text
	result.UnresolvedVariables = rendered.Unresolved

	return result
}
