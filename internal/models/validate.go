package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateMention checks a mention before it enters the pipeline
func ValidateMention(m *Mention) error {
	if m == nil {
		return fmt.Errorf("mention is nil")
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid mention %q: %w", m.ID, err)
	}
	return nil
}

// ValidateRule checks a rule and normalizes its term lists in place.
// Keywords and phrases are trimmed, empties dropped and duplicates removed
// case-insensitively, keeping the first spelling.
func ValidateRule(r *AutoReplyRule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	r.Keywords = normalizeTerms(r.Keywords)
	r.Phrases = normalizeTerms(r.Phrases)
	r.MatchType = MatchType(strings.ToLower(strings.TrimSpace(string(r.MatchType))))
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid rule %q: %w", r.ID, err)
	}
	return nil
}

func normalizeTerms(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
