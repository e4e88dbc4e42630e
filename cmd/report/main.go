package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/notifications"
	"github.com/azure/mentions-autoreply-bot/internal/storage"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// ConsoleNotificationService prints reports to the terminal and saves them as JSON
type ConsoleNotificationService struct {
	outputDir string
}

var _ notifications.NotificationInterface = (*ConsoleNotificationService)(nil)

func (c *ConsoleNotificationService) SendReport(report *models.Report) error {
	snap := report.Snapshot

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 MENTIONS AUTO-REPLY REPORT")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📅 Period: %s (%s → %s)\n", report.Period,
		snap.Window.Start.Format("2006-01-02 15:04"), snap.Window.End.Format("2006-01-02 15:04 MST"))
	fmt.Printf("📈 Total Mentions: %d\n", snap.TotalMentions)
	fmt.Printf("💬 Replied: %d (%.1f%%)\n", snap.RepliedMentions, snap.ResponseRate*100)
	fmt.Printf("🚩 Flagged: %d\n", snap.FlaggedMentions)
	fmt.Printf("⭐ Average Priority: %.2f\n", snap.AveragePriority)

	fmt.Println("\n💭 Sentiment Analysis:")
	for _, s := range []models.Sentiment{models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative} {
		emoji := "😐"
		switch s {
		case models.SentimentPositive:
			emoji = "😊"
		case models.SentimentNegative:
			emoji = "😞"
		}
		fmt.Printf("   %s %-10s %d mentions\n", emoji, string(s)+":", snap.SentimentDistribution[s])
	}

	if len(snap.Rules) > 0 {
		fmt.Println("\n📏 Rules:")
		for _, rs := range snap.Rules {
			fmt.Printf("   • %-20s matches=%d sent=%d throttled=%d failed=%d (%.0f%%)\n",
				rs.RuleID, rs.Matches, rs.Sends, rs.Throttled, rs.Failures, rs.SendRate*100)
		}
	}

	fmt.Println("\n🚩 Flagged Mentions:")
	for i, m := range report.Flagged {
		if i >= 5 {
			fmt.Printf("   ... and %d more mentions\n", len(report.Flagged)-5)
			break
		}
		fmt.Printf("\n   %d. @%s [%s] %s\n", i+1, m.AuthorHandle, m.PriorityLevel, m.Text)
		fmt.Printf("      🔎 %s\n", strings.Join(m.FlagReasons, ", "))
		if m.URL != "" {
			fmt.Printf("      🔗 URL: %s\n", m.URL)
		}
	}

	if c.outputDir != "" {
		if err := c.saveReportToFile(report); err != nil {
			fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	return nil
}

func (c *ConsoleNotificationService) SendAlert(alert *models.Alert) error {
	fmt.Println("\n🚨 ALERT")
	fmt.Printf("Type: %s\n", alert.Type)
	fmt.Printf("Message: %s\n", alert.Message)
	return nil
}

func (c *ConsoleNotificationService) saveReportToFile(report *models.Report) error {
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return err
	}

	timestamp := report.GeneratedAt.Format("2006-01-02_15-04-05")
	filename := filepath.Join(c.outputDir, fmt.Sprintf("mentions_report_%s_%s.json", report.Period, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Report saved to: %s\n", filename)
	return nil
}

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "report",
		Usage: "print the analytics report for a period, optionally delivering it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path of the SQLite database",
				Value:   "mentions.db",
				EnvVars: []string{"DATABASE_PATH"},
			},
			&cli.StringFlag{
				Name:  "period",
				Usage: "daily or weekly",
				Value: "daily",
			},
			&cli.TimestampFlag{
				Name:   "end",
				Usage:  "end of the period (RFC3339), defaults to now",
				Layout: time.RFC3339,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "directory the report JSON is written to",
				Value: "test_output",
			},
			&cli.BoolFlag{
				Name:  "send",
				Usage: "deliver and archive through the configured channels",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	ctx := context.Background()

	var length time.Duration
	switch period := cctx.String("period"); period {
	case "daily":
		length = 24 * time.Hour
	case "weekly":
		length = 7 * 24 * time.Hour
	default:
		return cli.Exit(fmt.Sprintf("unknown period %q", period), 2)
	}

	end := time.Now().UTC()
	if t := cctx.Timestamp("end"); t != nil {
		end = t.UTC()
	}

	st, err := store.NewSQLiteStore(cctx.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier notifications.NotificationInterface = &ConsoleNotificationService{outputDir: cctx.String("out")}
	var archive storage.Archive
	if cctx.Bool("send") {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if svc := notifications.NewService(cfg); svc.Enabled() {
			notifier = svc
		}
		if cfg.StorageAccount != "" {
			if archive, err = storage.NewAzureArchive(ctx, cfg.StorageAccount, cfg.StorageContainer); err != nil {
				return err
			}
		}
	}

	reporter := audit.NewReporter(audit.NewAggregator(st, st), notifier, archive, 0)
	_, err = reporter.Run(ctx, cctx.String("period"), length, end)
	return err
}
