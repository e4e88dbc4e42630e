// Package rules evaluates mention text against configured auto-reply rules.
//
// Matching is case-insensitive (Unicode case folding) plain substring search.
// It does not normalize diacritics: "cafe" does not match "café".
package rules

import (
	"sort"
	"strings"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"golang.org/x/text/cases"
)

// Candidate is a rule that satisfied its match type against a mention
type Candidate struct {
	Rule            models.AutoReplyRule
	Confidence      float64
	MatchedKeywords []string
	MatchedPhrases  []string
}

// Evaluation is the outcome of testing a single rule against text
type Evaluation struct {
	Matched         bool
	Confidence      float64
	MatchedKeywords []string
	MatchedPhrases  []string
}

// Match returns the candidate rules for text, best first.
//
// rules must be ordered by creation time ascending; equal priorities keep
// that order so the earliest-created rule wins. Inactive rules and rules
// whose sentiment filter excludes sentiment are skipped.
func Match(text string, sentiment models.Sentiment, rules []models.AutoReplyRule) []Candidate {
	folded := fold(text)

	var candidates []Candidate
	for _, rule := range rules {
		if !rule.IsActive || !rule.AllowsSentiment(sentiment) {
			continue
		}
		ev := evaluateFolded(rule, folded)
		if !ev.Matched {
			continue
		}
		candidates = append(candidates, Candidate{
			Rule:            rule,
			Confidence:      ev.Confidence,
			MatchedKeywords: ev.MatchedKeywords,
			MatchedPhrases:  ev.MatchedPhrases,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Rule, candidates[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return candidates
}

// Evaluate tests one rule against text, ignoring is_active and the sentiment filter.
func Evaluate(rule models.AutoReplyRule, text string) Evaluation {
	return evaluateFolded(rule, fold(text))
}

func evaluateFolded(rule models.AutoReplyRule, folded string) Evaluation {
	seen := make(map[string]bool, len(rule.Keywords)+len(rule.Phrases))
	keywords := uniqueTerms(rule.Keywords, seen)
	phrases := uniqueTerms(rule.Phrases, seen)

	configured := len(keywords) + len(phrases)
	if configured == 0 {
		return Evaluation{}
	}

	var ev Evaluation
	for _, k := range keywords {
		if strings.Contains(folded, k.folded) {
			ev.MatchedKeywords = append(ev.MatchedKeywords, k.original)
		}
	}
	for _, p := range phrases {
		if strings.Contains(folded, p.folded) {
			ev.MatchedPhrases = append(ev.MatchedPhrases, p.original)
		}
	}

	matched := len(ev.MatchedKeywords) + len(ev.MatchedPhrases)
	switch rule.MatchType {
	case models.MatchAll:
		if matched == configured {
			ev.Matched = true
			ev.Confidence = 1.0
		}
	case models.MatchAny:
		if matched > 0 {
			ev.Matched = true
			ev.Confidence = float64(matched) / float64(configured)
		}
	}

	if !ev.Matched {
		return Evaluation{}
	}
	return ev
}

type term struct {
	original string
	folded   string
}

// uniqueTerms drops blank and case-insensitively duplicated terms. seen is
// shared between keywords and phrases so the union counts each term once.
func uniqueTerms(in []string, seen map[string]bool) []term {
	if len(in) == 0 {
		return nil
	}
	out := make([]term, 0, len(in))
	for _, s := range in {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		f := fold(trimmed)
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, term{original: trimmed, folded: f})
	}
	return out
}

// fold lower-cases text with Unicode case folding. A Caser is not safe for
// concurrent use, so one is created per call.
func fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}
