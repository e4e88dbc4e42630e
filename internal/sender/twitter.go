// Package sender posts replies to the platform a mention came from.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// TwitterSender replies to tweets through the v2 create tweet endpoint
type TwitterSender struct {
	token  string
	client *resty.Client
}

// Ensure TwitterSender implements dispatch.Sender
var _ dispatch.Sender = (*TwitterSender)(nil)

type createTweetRequest struct {
	Text  string     `json:"text"`
	Reply replyBlock `json:"reply"`
}

type replyBlock struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// NewTwitterSender creates a sender that posts with token against baseURL
func NewTwitterSender(baseURL, token string) *TwitterSender {
	return &TwitterSender{
		token: token,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Mentions-AutoReply-Bot/1.0"),
	}
}

// Send posts text as a reply to targetMentionID and returns the new tweet id
func (s *TwitterSender) Send(ctx context.Context, text string, targetMentionID string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.token).
		SetHeader("Content-Type", "application/json").
		SetBody(createTweetRequest{
			Text:  text,
			Reply: replyBlock{InReplyToTweetID: targetMentionID},
		}).
		Post("/2/tweets")
	if err != nil {
		return "", fmt.Errorf("failed to post reply: %w", err)
	}

	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("twitter API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var body createTweetResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to parse reply response: %w", err)
	}
	if body.Data.ID == "" {
		return "", fmt.Errorf("reply response carried no tweet id")
	}

	logrus.WithField("mention_id", targetMentionID).Debugf("Posted reply %s", body.Data.ID)
	return body.Data.ID, nil
}
