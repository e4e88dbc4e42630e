package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwitterSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

		var body createTweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Thanks @alice!", body.Text)
		assert.Equal(t, "101", body.Reply.InReplyToTweetID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"900","text":"Thanks @alice!"}}`))
	}))
	defer srv.Close()

	id, err := NewTwitterSender(srv.URL, "user-token").Send(context.Background(), "Thanks @alice!", "101")
	require.NoError(t, err)
	assert.Equal(t, "900", id)
}

func TestTwitterSender_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden", http.StatusForbidden, `{"title":"Forbidden"}`},
		{"rate limited", http.StatusTooManyRequests, `{}`},
		{"missing id", http.StatusCreated, `{"data":{}}`},
		{"malformed", http.StatusCreated, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTwitterSender(srv.URL, "token").Send(context.Background(), "hi", "1")
			assert.Error(t, err)
		})
	}
}

func TestTwitterSender_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewTwitterSender(srv.URL, "token").Send(ctx, "hi", "1")
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	id, err := LogSender{}.Send(context.Background(), "hello", "101")
	require.NoError(t, err)
	assert.Contains(t, id, "dry-run-")
}
