package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/notifications"
	"github.com/azure/mentions-autoreply-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

// Reporter turns periodic snapshots into reports, delivers and archives them
type Reporter struct {
	aggregator *Aggregator
	notifier   notifications.NotificationInterface
	archive    storage.Archive
	retention  int
}

// NewReporter creates a reporter. notifier and archive may be nil to skip
// delivery or archiving. retention is the number of archived reports kept
// per period; 0 keeps all of them.
func NewReporter(aggregator *Aggregator, notifier notifications.NotificationInterface, archive storage.Archive, retention int) *Reporter {
	return &Reporter{
		aggregator: aggregator,
		notifier:   notifier,
		archive:    archive,
		retention:  retention,
	}
}

// Generate builds the report for the period ending at end
func (r *Reporter) Generate(ctx context.Context, period string, length time.Duration, end time.Time) (*models.Report, error) {
	w := models.Window{Start: end.Add(-length), End: end, Granularity: granularityFor(length)}
	snap, err := r.aggregator.Summarize(ctx, w)
	if err != nil {
		return nil, err
	}

	mentions, err := r.aggregator.mentions.ListMentions(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged mentions: %w", err)
	}
	var flagged []models.Mention
	for _, m := range mentions {
		if m.IsFlagged {
			flagged = append(flagged, m)
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].PriorityScore > flagged[j].PriorityScore
	})

	return &models.Report{
		GeneratedAt: end,
		Period:      period,
		Snapshot:    snap,
		Flagged:     flagged,
	}, nil
}

// Run generates, delivers and archives the report for the period ending at end.
// Archive failures are logged; a delivery failure is returned.
func (r *Reporter) Run(ctx context.Context, period string, length time.Duration, end time.Time) (*models.Report, error) {
	report, err := r.Generate(ctx, period, length, end)
	if err != nil {
		return nil, err
	}

	if r.archive != nil {
		key, err := storage.SaveReport(ctx, r.archive, report)
		if err != nil {
			logrus.Errorf("Failed to archive %s report: %v", period, err)
		} else {
			logrus.WithField("blob", key).Infof("Archived %s report", period)
			if _, err := storage.PruneReports(ctx, r.archive, period, r.retention); err != nil {
				logrus.Warnf("Failed to prune %s reports: %v", period, err)
			}
		}
	}

	if r.notifier != nil {
		if err := r.notifier.SendReport(report); err != nil {
			return report, fmt.Errorf("failed to send %s report: %w", period, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"period":   period,
		"mentions": report.Snapshot.TotalMentions,
		"flagged":  len(report.Flagged),
	}).Info("Report generated")
	return report, nil
}

func granularityFor(length time.Duration) string {
	if length > 48*time.Hour {
		return GranularityDay
	}
	return GranularityHour
}
