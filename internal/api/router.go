// Package api exposes health, metrics, batch triggering, rule dry-runs and
// analytics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/rules"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Engagement is the batch processor driven by /trigger and /stats
type Engagement interface {
	RunBatch(ctx context.Context) error
	GetMetrics() ([]byte, error)
	Running() bool
}

// Analytics computes snapshots for /analytics
type Analytics interface {
	Summarize(ctx context.Context, w models.Window) (*models.AnalyticsSnapshot, error)
}

// Handler serves the bot's HTTP endpoints
type Handler struct {
	engagement Engagement
	rules      store.RuleRepository
	analytics  Analytics
	now        func() time.Time
}

// NewHandler creates a handler over the given collaborators
func NewHandler(engagement Engagement, ruleRepo store.RuleRepository, analytics Analytics) *Handler {
	return &Handler{
		engagement: engagement,
		rules:      ruleRepo,
		analytics:  analytics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Router returns the routes of the handler
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Last batch statistics
	router.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	// Manual batch trigger
	router.HandleFunc("/trigger", h.trigger).Methods(http.MethodPost)

	// Rule dry-runs
	router.HandleFunc("/rules/test", h.testInlineRule).Methods(http.MethodPost)
	router.HandleFunc("/rules/{id}/test", h.testStoredRule).Methods(http.MethodPost)

	router.HandleFunc("/analytics", h.analyticsSnapshot).Methods(http.MethodGet)

	return router
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.engagement.GetMetrics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(metrics)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	if h.engagement.Running() {
		writeError(w, http.StatusConflict, "a batch or stale sweep is already running")
		return
	}

	go func() {
		if err := h.engagement.RunBatch(context.Background()); err != nil {
			logrus.Errorf("Manual batch trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Batch triggered successfully"})
}

// dryRunRequest is the body of the rule test endpoints
type dryRunRequest struct {
	Rule           *models.AutoReplyRule `json:"rule,omitempty"`
	Text           string                `json:"text"`
	Sentiment      models.Sentiment      `json:"sentiment,omitempty"`
	AuthorUsername string                `json:"author_username,omitempty"`
	AuthorName     string                `json:"author_name,omitempty"`
}

func (req dryRunRequest) mention() *models.Mention {
	return &models.Mention{
		ID:           "dry-run",
		AuthorHandle: req.AuthorUsername,
		AuthorName:   req.AuthorName,
		Sentiment:    req.Sentiment,
	}
}

func decodeDryRun(w http.ResponseWriter, r *http.Request) (*dryRunRequest, bool) {
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Sentiment != "" && !req.Sentiment.Valid() {
		writeError(w, http.StatusBadRequest, "sentiment must be positive, neutral or negative")
		return nil, false
	}
	return &req, true
}

func (h *Handler) testInlineRule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDryRun(w, r)
	if !ok {
		return
	}
	if req.Rule == nil {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	if err := models.ValidateRule(req.Rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rules.DryRun(*req.Rule, req.Text, req.Sentiment, req.mention()))
}

func (h *Handler) testStoredRule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDryRun(w, r)
	if !ok {
		return
	}

	rule, err := h.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rules.DryRun(*rule, req.Text, req.Sentiment, req.mention()))
}

// analyticsSnapshot serves GET /analytics?start=&end=&granularity=.
// end defaults to now and start to 24 hours before end.
func (h *Handler) analyticsSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := h.now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be an RFC3339 timestamp")
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be an RFC3339 timestamp")
			return
		}
		start = t
	}

	snap, err := h.analytics.Summarize(r.Context(), models.Window{
		Start:       start.UTC(),
		End:         end.UTC(),
		Granularity: q.Get("granularity"),
	})
	if errors.Is(err, audit.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
