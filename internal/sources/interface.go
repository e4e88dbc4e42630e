package sources

import (
	"context"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

// Source interface defines the contract for mention sources
type Source interface {
	GetName() string
	// FetchMentions returns mentions of the monitored account created at or after since
	FetchMentions(ctx context.Context, since time.Time) ([]models.Mention, error)
	IsEnabled() bool
}
