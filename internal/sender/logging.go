package sender

import (
	"context"

	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSender writes replies to the log instead of posting them
type LogSender struct{}

var _ dispatch.Sender = LogSender{}

// Send logs the reply and returns a synthetic id
func (LogSender) Send(ctx context.Context, text string, targetMentionID string) (string, error) {
	id := "dry-run-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"mention_id": targetMentionID,
		"reply_id":   id,
	}).Infof("Dry run reply: %s", text)
	return id, nil
}
