package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/gomail.v2"
)

// Service handles sending notifications via Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether any notification channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendReport sends an analytics report via configured notification channels
func (s *Service) SendReport(report *models.Report) error {
	return s.deliver("report",
		func() error { return s.postTeams(s.buildReportCard(report)) },
		func() error {
			html, err := renderHTML(reportEmailTemplate, report)
			if err != nil {
				return fmt.Errorf("failed to build email HTML: %w", err)
			}
			subject := fmt.Sprintf("Mentions Report - %s (%d mentions)", title(report.Period), snapshotOf(report).TotalMentions)
			return s.sendEmail(subject, buildReportText(report), html)
		})
}

// SendAlert sends an urgent notification about a flagged mention
func (s *Service) SendAlert(alert *models.Alert) error {
	return s.deliver("alert",
		func() error { return s.postTeams(buildAlertCard(alert)) },
		func() error {
			html, err := renderHTML(alertEmailTemplate, alert)
			if err != nil {
				return fmt.Errorf("failed to build email HTML: %w", err)
			}
			subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
			return s.sendEmail(subject, buildAlertText(alert), html)
		})
}

func (s *Service) deliver(kind string, teams, email func() error) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := teams(); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := email(); err != nil {
			logrus.Errorf("Failed to send email %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (s *Service) postTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

func (s *Service) sendEmail(subject, text, html string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *Service) buildReportCard(report *models.Report) *TeamsMessage {
	snap := snapshotOf(report)
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Mentions Report - %s", title(report.Period)),
		Text: fmt.Sprintf("%d mentions, %d replied (%.0f%%), %d flagged",
			snap.TotalMentions, snap.RepliedMentions, snap.ResponseRate*100, snap.FlaggedMentions),
	}

	facts := []TeamsFact{
		{Name: "Window", Value: fmt.Sprintf("%s to %s", snap.Window.Start.Format(time.RFC3339), snap.Window.End.Format(time.RFC3339))},
		{Name: "Average Priority", Value: fmt.Sprintf("%.2f", snap.AveragePriority)},
	}
	for _, k := range sortedKeys(snap.SentimentDistribution) {
		facts = append(facts, TeamsFact{
			Name:  fmt.Sprintf("%s Mentions", title(string(k))),
			Value: fmt.Sprintf("%d", snap.SentimentDistribution[k]),
		})
	}
	message.Sections = append(message.Sections, TeamsSection{ActivityTitle: "Summary", Facts: facts, Markdown: true})

	if len(snap.Rules) > 0 {
		var ruleFacts []TeamsFact
		for _, r := range snap.Rules {
			ruleFacts = append(ruleFacts, TeamsFact{
				Name:  r.RuleID,
				Value: fmt.Sprintf("%d matched, %d sent, %d throttled, %d failed", r.Matches, r.Sends, r.Throttled, r.Failures),
			})
		}
		message.Sections = append(message.Sections, TeamsSection{ActivityTitle: "Rule Performance", Facts: ruleFacts})
	}

	if len(report.Flagged) > 0 {
		var lines []string
		for i, m := range report.Flagged {
			if i >= 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("**@%s** (%s): %s", m.AuthorHandle, m.PriorityLevel, truncate(m.Text, 140)))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Flagged Mentions",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func buildAlertCard(alert *models.Alert) *TeamsMessage {
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: alertColor(alert.Type),
		Title:      alert.Title,
		Text:       alert.Message,
	}
	if m := alert.Mention; m != nil {
		facts := []TeamsFact{
			{Name: "Author", Value: "@" + m.AuthorHandle},
			{Name: "Priority", Value: fmt.Sprintf("%s (%.2f)", m.PriorityLevel, m.PriorityScore)},
			{Name: "Sentiment", Value: string(m.Sentiment)},
			{Name: "Reasons", Value: strings.Join(m.FlagReasons, ", ")},
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle:    "@" + m.AuthorHandle,
			ActivitySubtitle: m.CreatedAt.Format(time.RFC3339),
			ActivityText:     truncate(m.Text, 500),
			Facts:            facts,
			Markdown:         true,
		})
	}
	return message
}

func alertColor(kind string) string {
	switch kind {
	case "critical":
		return "D13438"
	case "urgent":
		return "FF8C00"
	default:
		return "0078D4"
	}
}

const reportEmailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Mentions Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .mention { border-left: 4px solid #d13438; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .mention-meta { color: #666; font-size: 0.9em; }
        table { border-collapse: collapse; }
        td, th { padding: 4px 12px; border-bottom: 1px solid #ddd; text-align: left; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Mentions Report</h1>
        <p>{{.Period | title}} report generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM MST"}}</p>
    </div>

    {{with .Snapshot}}
    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Total Mentions:</strong> {{.TotalMentions}}</p>
        <p><strong>Replied:</strong> {{.RepliedMentions}} ({{percent .ResponseRate}})</p>
        <p><strong>Flagged:</strong> {{.FlaggedMentions}}</p>
        <p><strong>Average Priority:</strong> {{printf "%.2f" .AveragePriority}}</p>
        {{range $sentiment, $count := .SentimentDistribution}}
            <p><strong>{{$sentiment | title}} Mentions:</strong> {{$count}}</p>
        {{end}}
    </div>

    {{if .Rules}}
    <h2>Rule Performance</h2>
    <table>
        <tr><th>Rule</th><th>Matched</th><th>Sent</th><th>Throttled</th><th>Failed</th><th>Send Rate</th></tr>
        {{range .Rules}}
        <tr><td>{{.RuleID}}</td><td>{{.Matches}}</td><td>{{.Sends}}</td><td>{{.Throttled}}</td><td>{{.Failures}}</td><td>{{percent .SendRate}}</td></tr>
        {{end}}
    </table>
    {{end}}
    {{end}}

    {{if .Flagged}}
    <h2>Flagged Mentions</h2>
    {{range $index, $mention := .Flagged}}
        {{if lt $index 10}}
        <div class="mention">
            <div><a href="{{$mention.URL}}" target="_blank">@{{$mention.AuthorHandle}}</a></div>
            <div class="mention-meta">
                {{$mention.PriorityLevel}} priority | {{$mention.Sentiment}} | {{$mention.CreatedAt.Format "Jan 2, 2006 15:04"}}
            </div>
            <p>{{$mention.Text | truncate 200}}</p>
        </div>
        {{end}}
    {{end}}
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the mentions auto-reply bot.</small></p>
</body>
</html>
`

const alertEmailTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif;">
    <h2>{{.Title}}</h2>
    <p>{{.Message}}</p>
    {{with .Mention}}
    <blockquote>{{.Text}}</blockquote>
    <p>@{{.AuthorHandle}} | {{.PriorityLevel}} priority | {{.Sentiment}}</p>
    {{if .URL}}<p><a href="{{.URL}}">Open mention</a></p>{{end}}
    {{end}}
</body>
</html>
`

func renderHTML(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Funcs(template.FuncMap{
		"title":    func(v interface{}) string { return title(fmt.Sprint(v)) },
		"truncate": func(n int, s string) string { return truncate(s, n) },
		"percent":  func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
	}).Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildReportText(report *models.Report) string {
	snap := snapshotOf(report)
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Mentions Report - %s\n", title(report.Period)))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Total Mentions: %d\n", snap.TotalMentions))
	text.WriteString(fmt.Sprintf("Replied: %d (%.0f%%)\n", snap.RepliedMentions, snap.ResponseRate*100))
	text.WriteString(fmt.Sprintf("Flagged: %d\n", snap.FlaggedMentions))
	for _, k := range sortedKeys(snap.SentimentDistribution) {
		text.WriteString(fmt.Sprintf("%s Mentions: %d\n", title(string(k)), snap.SentimentDistribution[k]))
	}

	if len(snap.Rules) > 0 {
		text.WriteString("\nRULES\n")
		text.WriteString("=====\n")
		for _, r := range snap.Rules {
			text.WriteString(fmt.Sprintf("%s: %d matched, %d sent, %d throttled, %d failed\n",
				r.RuleID, r.Matches, r.Sends, r.Throttled, r.Failures))
		}
	}

	if len(report.Flagged) > 0 {
		text.WriteString("\nFLAGGED MENTIONS\n")
		text.WriteString("================\n")
		for i, m := range report.Flagged {
			if i >= 10 {
				break
			}
			text.WriteString(fmt.Sprintf("\n%d. @%s (%s priority)\n", i+1, m.AuthorHandle, m.PriorityLevel))
			text.WriteString(fmt.Sprintf("   Reasons: %s\n", strings.Join(m.FlagReasons, ", ")))
			if m.URL != "" {
				text.WriteString(fmt.Sprintf("   URL: %s\n", m.URL))
			}
			text.WriteString(fmt.Sprintf("   %s\n", truncate(m.Text, 200)))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the mentions auto-reply bot.\n")
	return text.String()
}

func buildAlertText(alert *models.Alert) string {
	var text strings.Builder
	text.WriteString(alert.Title + "\n\n" + alert.Message + "\n")
	if m := alert.Mention; m != nil {
		text.WriteString(fmt.Sprintf("\n@%s wrote:\n%s\n", m.AuthorHandle, m.Text))
		if m.URL != "" {
			text.WriteString(m.URL + "\n")
		}
	}
	return text.String()
}

func snapshotOf(report *models.Report) *models.AnalyticsSnapshot {
	if report.Snapshot == nil {
		return &models.AnalyticsSnapshot{}
	}
	return report.Snapshot
}

func sortedKeys(m map[models.Sentiment]int) []models.Sentiment {
	keys := make([]models.Sentiment, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
