package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/azure/mentions-autoreply-bot/internal/engagement"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/sender"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/joho/godotenv"
)

// SimpleTestNotification for local testing
type SimpleTestNotification struct{}

func (s *SimpleTestNotification) SendReport(report *models.Report) error {
	fmt.Println("\n🎉 REPORT GENERATED!")
	fmt.Printf("📊 Total Mentions: %d\n", report.Snapshot.TotalMentions)
	fmt.Println("📍 Outcomes:")
	for outcome, count := range report.Snapshot.OutcomeCounts {
		fmt.Printf("   • %s: %d\n", outcome, count)
	}
	return nil
}

func (s *SimpleTestNotification) SendAlert(alert *models.Alert) error {
	fmt.Printf("🚨 ALERT [%s]: %s\n", alert.Type, alert.Message)
	return nil
}

func sampleRules() []models.AutoReplyRule {
	return []models.AutoReplyRule{
		{
			ID: "login-help", Name: "Login help", Keywords: []string{"login", "password"},
			MatchType: models.MatchAny, Priority: 5, IsActive: true, MaxPerHour: models.Limit(2),
			ResponseTemplate: "Hi @{{author_username}}, sorry about the trouble. Our password reset guide is at https://aka.ms/reset",
		},
		{
			ID: "thanks", Name: "Thank you", Keywords: []string{"thanks", "thank you"},
			MatchType: models.MatchAny, Priority: 1, IsActive: true, CooldownMinutes: 1,
			SentimentFilter:  []models.Sentiment{models.SentimentPositive},
			ResponseTemplate: "Thanks {{author_name}}! 💙",
		},
	}
}

func sampleMentions(now time.Time) []models.Mention {
	texts := []struct {
		handle   string
		text     string
		audience int64
	}{
		{"devops_rookie", "Having issues with login, can someone help?", 120},
		{"cloud_enthusiast", "Thanks for the quick fix, works great now!", 4000},
		{"sre_lead", "Password reset is broken again, this outage is terrible", 50000},
		{"student", "Is there a free tier?", 10},
		{"another_user", "Cannot login since this morning", 300},
	}

	var mentions []models.Mention
	for i, t := range texts {
		mentions = append(mentions, models.Mention{
			ID:           fmt.Sprintf("local-%d", i+1),
			Source:       "local",
			AuthorHandle: t.handle,
			AuthorName:   strings.ReplaceAll(t.handle, "_", " "),
			Text:         t.text,
			AudienceSize: t.audience,
			CreatedAt:    now.Add(-time.Duration(len(texts)-i) * time.Minute),
		})
	}
	return mentions
}

func main() {
	fmt.Println("🧪 Mentions Auto-Reply Bot - Local Integration Test")
	fmt.Println("===================================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Create basic config for testing
	cfg := &config.Config{
		ReportSchedule:    "daily",
		Workers:           2,
		SendTimeout:       time.Second,
		LookbackWindow:    24 * time.Hour,
		AudienceThreshold: 1000,
		ReplySLA:          4 * time.Hour,
		AlertFlagged:      true,
	}

	// Create test services
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, r := range sampleRules() {
		if err := st.SaveRule(ctx, &r); err != nil {
			log.Fatalf("Failed to save rule %s: %v", r.ID, err)
		}
	}
	notifications := &SimpleTestNotification{}

	dispatcher := dispatch.NewDispatcher(st, throttle.NewGuard(throttle.NewMemoryStore()), sender.LogSender{}, cfg.SendTimeout)
	aggregator := audit.NewAggregator(st, st)
	service := engagement.NewService(cfg, st, dispatcher, aggregator, notifications)

	fmt.Println("🔍 Running sample mentions through the pipeline...")

	now := time.Now().UTC()
	for _, m := range sampleMentions(now) {
		if _, err := st.InsertIfAbsent(ctx, &m); err != nil {
			log.Fatalf("Failed to store mention %s: %v", m.ID, err)
		}

		fmt.Printf("\n🔸 @%s: \"%s\"\n", m.AuthorHandle, m.Text)
		for _, entry := range service.ProcessMention(ctx, &m) {
			line := fmt.Sprintf("   → %s", entry.Outcome)
			if entry.RuleID != "" {
				line += fmt.Sprintf(" (rule %s, confidence %.2f)", entry.RuleID, entry.Confidence)
			}
			if entry.Reason != "" {
				line += " - " + entry.Reason
			}
			fmt.Println(line)
			if entry.RenderedResponse != "" {
				fmt.Printf("   💬 %s\n", entry.RenderedResponse)
			}
		}
	}

	// Generate test report
	reporter := audit.NewReporter(aggregator, notifications, nil, 0)
	if _, err := reporter.Run(ctx, "daily", 24*time.Hour, now.Add(time.Minute)); err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}

	fmt.Println("\n✅ Local integration test completed!")
}
