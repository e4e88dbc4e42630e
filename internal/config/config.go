package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	PollSchedule       string // cron expression for mention batches
	StaleSweepSchedule string
	ReportSchedule     string // "daily" or "weekly"
	ReportRetention    int    // archived reports kept per period, 0 keeps all
	TimeZone           string

	// Persistence
	DatabasePath    string
	ThrottleBackend string // "memory" or "redis"
	RedisURL        string

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	AlertFlagged      bool

	// Twitter/X credentials
	TwitterBearerToken string
	TwitterUserID      string
	TwitterAPIBaseURL  string
	TwitterAccessToken string // user-context token for posting replies
	DryRun             bool   // log replies instead of posting them

	// Processing
	Workers            int
	SendTimeout        time.Duration
	LookbackWindow     time.Duration
	AudienceThreshold  int64
	ReplySLA           time.Duration
	EscalationKeywords []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		PollSchedule:       getEnv("POLL_SCHEDULE", "@every 5m"),
		StaleSweepSchedule: getEnv("STALE_SWEEP_SCHEDULE", "@every 15m"),
		ReportSchedule:     getEnv("REPORT_SCHEDULE", "daily"),
		ReportRetention:    getIntEnv("REPORT_RETENTION", 30),
		TimeZone:           getEnv("TIMEZONE", "UTC"),

		DatabasePath:    getEnv("DATABASE_PATH", "mentions.db"),
		ThrottleBackend: getEnv("THROTTLE_BACKEND", "memory"),
		RedisURL:        getEnv("REDIS_URL", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mention-reports"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		AlertFlagged:      getBoolEnv("ALERT_FLAGGED", true),

		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		TwitterUserID:      getEnv("TWITTER_USER_ID", ""),
		TwitterAPIBaseURL:  getEnv("TWITTER_API_BASE_URL", "https://api.twitter.com"),
		TwitterAccessToken: getEnv("TWITTER_ACCESS_TOKEN", ""),
		DryRun:             getBoolEnv("DRY_RUN", false),

		Workers:           getIntEnv("WORKERS", 4),
		SendTimeout:       getDurationEnv("SEND_TIMEOUT", 10*time.Second),
		LookbackWindow:    getDurationEnv("LOOKBACK_WINDOW", 24*time.Hour),
		AudienceThreshold: int64(getIntEnv("AUDIENCE_THRESHOLD", 1000)),
		ReplySLA:          getDurationEnv("REPLY_SLA", 4*time.Hour),
		// nil keeps the flagging engine's built-in list
		EscalationKeywords: getSliceEnv("ESCALATION_KEYWORDS", nil),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'daily' or 'weekly'")
	}

	if _, err := cron.ParseStandard(c.PollSchedule); err != nil {
		return fmt.Errorf("invalid POLL_SCHEDULE %q: %w", c.PollSchedule, err)
	}
	if _, err := cron.ParseStandard(c.StaleSweepSchedule); err != nil {
		return fmt.Errorf("invalid STALE_SWEEP_SCHEDULE %q: %w", c.StaleSweepSchedule, err)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.TimeZone, err)
	}

	switch c.ThrottleBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when THROTTLE_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("THROTTLE_BACKEND must be 'memory' or 'redis'")
	}

	if !c.DryRun && c.TwitterUserID != "" && c.ReplyToken() == "" {
		return fmt.Errorf("TWITTER_ACCESS_TOKEN or TWITTER_BEARER_TOKEN is required unless DRY_RUN is set")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("LOOKBACK_WINDOW must be positive")
	}
	if c.ReplySLA <= 0 {
		return fmt.Errorf("REPLY_SLA must be positive")
	}
	if c.AudienceThreshold < 0 {
		return fmt.Errorf("AUDIENCE_THRESHOLD cannot be negative")
	}

	return nil
}

// ReportPeriod returns the analytics window length of the report schedule
func (c *Config) ReportPeriod() time.Duration {
	if c.ReportSchedule == "weekly" {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// ReplyToken returns the token used to post replies
func (c *Config) ReplyToken() string {
	if c.TwitterAccessToken != "" {
		return c.TwitterAccessToken
	}
	return c.TwitterBearerToken
}

// Location returns the configured time zone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
