package priority

import (
	"math"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

// DefaultAudienceThreshold is the follower count above which a mention is raised one level
const DefaultAudienceThreshold = 1000

// Scorer derives a priority score and level from sentiment and audience size
type Scorer struct {
	audienceThreshold int64
}

// NewScorer creates a scorer. A non-positive threshold falls back to the default.
func NewScorer(audienceThreshold int64) *Scorer {
	if audienceThreshold <= 0 {
		audienceThreshold = DefaultAudienceThreshold
	}
	return &Scorer{audienceThreshold: audienceThreshold}
}

// Score returns the numeric priority and level for a mention.
// Unclassified sentiment scores as neutral; negative audience counts as zero.
func (s *Scorer) Score(m *models.Mention) (float64, models.PriorityLevel) {
	weight, level := baseFor(m.Sentiment)

	audience := m.AudienceSize
	if audience < 0 {
		audience = 0
	}

	score := weight + math.Log10(1+float64(audience))
	if audience > s.audienceThreshold {
		level = level.Raise(1)
	}

	return score, level
}

func baseFor(sentiment models.Sentiment) (float64, models.PriorityLevel) {
	switch sentiment {
	case models.SentimentNegative:
		return 3, models.PriorityHigh
	case models.SentimentPositive:
		return 1, models.PriorityLow
	default:
		return 2, models.PriorityMedium
	}
}
