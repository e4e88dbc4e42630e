package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// maxPages bounds the pagination of one fetch
const maxPages = 5

// TwitterSource reads the mentions timeline of one X/Twitter account
type TwitterSource struct {
	bearerToken string
	userID      string
	client      *resty.Client
}

// Ensure TwitterSource implements Source
var _ Source = (*TwitterSource)(nil)

type twitterMentionsResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type twitterTweet struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	AuthorID         string `json:"author_id"`
	CreatedAt        string `json:"created_at"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type twitterUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	PublicMetrics struct {
		FollowersCount int64 `json:"followers_count"`
	} `json:"public_metrics"`
}

// NewTwitterSource creates a source for the account userID. baseURL is the
// API root, e.g. https://api.twitter.com.
func NewTwitterSource(baseURL, bearerToken, userID string) *TwitterSource {
	return &TwitterSource{
		bearerToken: bearerToken,
		userID:      userID,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Mentions-AutoReply-Bot/1.0"),
	}
}

func (t *TwitterSource) GetName() string {
	return "twitter"
}

func (t *TwitterSource) IsEnabled() bool {
	return t.bearerToken != "" && t.userID != ""
}

// FetchMentions pages through the mentions timeline. A rate limit ends the
// fetch early with the mentions collected so far.
func (t *TwitterSource) FetchMentions(ctx context.Context, since time.Time) ([]models.Mention, error) {
	if !t.IsEnabled() {
		logrus.Debug("Twitter source disabled - missing bearer token or user id")
		return nil, nil
	}

	var mentions []models.Mention
	seen := make(map[string]bool)
	nextToken := ""

	for page := 0; page < maxPages; page++ {
		req := t.client.R().
			SetContext(ctx).
			SetAuthToken(t.bearerToken).
			SetPathParam("id", t.userID).
			SetQueryParams(map[string]string{
				"start_time":   since.UTC().Format(time.RFC3339),
				"max_results":  "100",
				"tweet.fields": "created_at,author_id,referenced_tweets",
				"expansions":   "author_id",
				"user.fields":  "username,name,public_metrics",
			})
		if nextToken != "" {
			req.SetQueryParam("pagination_token", nextToken)
		}

		resp, err := req.Get("/2/users/{id}/mentions")
		if err != nil {
			return mentions, fmt.Errorf("twitter mentions request failed: %w", err)
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			logrus.Warnf("Twitter API rate limit hit after %d mentions - resuming next run", len(mentions))
			if reset := resp.Header().Get("x-rate-limit-reset"); reset != "" {
				if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
					logrus.Infof("Twitter rate limit will reset at: %s", time.Unix(sec, 0).UTC().Format(time.RFC3339))
				}
			}
			return mentions, nil
		}

		if resp.StatusCode() != http.StatusOK {
			return mentions, fmt.Errorf("twitter API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
		}

		var body twitterMentionsResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return mentions, fmt.Errorf("failed to parse Twitter response: %w", err)
		}

		users := make(map[string]twitterUser, len(body.Includes.Users))
		for _, u := range body.Includes.Users {
			users[u.ID] = u
		}

		for _, tweet := range body.Data {
			if isRetweet(tweet) || seen[tweet.ID] {
				continue
			}
			m, err := toMention(tweet, users[tweet.AuthorID])
			if err != nil {
				logrus.Errorf("Skipping tweet %s: %v", tweet.ID, err)
				continue
			}
			seen[tweet.ID] = true
			mentions = append(mentions, m)
		}

		nextToken = body.Meta.NextToken
		if nextToken == "" {
			break
		}
	}

	logrus.Infof("Fetched %d mentions from Twitter", len(mentions))
	return mentions, nil
}

func toMention(tweet twitterTweet, author twitterUser) (models.Mention, error) {
	createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
	if err != nil {
		return models.Mention{}, fmt.Errorf("failed to parse Twitter timestamp: %w", err)
	}

	handle := author.Username
	if handle == "" {
		handle = tweet.AuthorID
	}
	return models.Mention{
		ID:           tweet.ID,
		Source:       "twitter",
		AuthorHandle: handle,
		AuthorName:   author.Name,
		Text:         tweet.Text,
		URL:          fmt.Sprintf("https://twitter.com/%s/status/%s", handle, tweet.ID),
		CreatedAt:    createdAt.UTC(),
		AudienceSize: author.PublicMetrics.FollowersCount,
	}, nil
}

func isRetweet(tweet twitterTweet) bool {
	for _, ref := range tweet.ReferencedTweets {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}
