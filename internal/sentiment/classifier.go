// Package sentiment labels mention text positive, neutral or negative by
// counting lexicon words that appear in it.
package sentiment

import (
	"strings"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

var (
	positiveWords = []string{
		"good", "great", "excellent", "love", "awesome", "fantastic", "helpful",
		"works", "solved", "success", "thanks", "thank you", "amazing", "happy", "appreciate",
	}
	negativeWords = []string{
		"bad", "terrible", "awful", "hate", "broken", "error", "fail", "problem",
		"issue", "bug", "can't", "cannot", "worst", "angry", "disappointed", "refund", "scam",
	}
)

// Classifier assigns a sentiment label to mention text using a fixed lexicon
type Classifier struct {
	positive []string
	negative []string
}

// NewClassifier creates a classifier with the default lexicon
func NewClassifier() *Classifier {
	return &Classifier{
		positive: positiveWords,
		negative: negativeWords,
	}
}

// Classify returns the sentiment of text. It never fails: empty or
// unclassifiable text is neutral, and ties are neutral.
func (c *Classifier) Classify(text string) models.Sentiment {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return models.SentimentNeutral
	}

	positiveCount := countHits(content, c.positive)
	negativeCount := countHits(content, c.negative)

	if positiveCount > negativeCount {
		return models.SentimentPositive
	} else if negativeCount > positiveCount {
		return models.SentimentNegative
	}

	return models.SentimentNeutral
}

func countHits(content string, words []string) int {
	n := 0
	for _, word := range words {
		if strings.Contains(content, word) {
			n++
		}
	}
	return n
}
