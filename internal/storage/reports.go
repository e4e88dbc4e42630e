package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/sirupsen/logrus"
)

const reportPrefix = "reports/"

// ReportKey returns the blob name for a report. Names sort chronologically
// within a period.
func ReportKey(period string, generatedAt time.Time) string {
	return fmt.Sprintf("%s%s/%s.json", reportPrefix, period, generatedAt.UTC().Format("2006-01-02T15-04-05Z"))
}

// SaveReport archives report as JSON and returns its blob name
func SaveReport(ctx context.Context, a Archive, report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	key := ReportKey(report.Period, report.GeneratedAt)
	if err := a.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// LoadReport reads an archived report
func LoadReport(ctx context.Context, a Archive, key string) (*models.Report, error) {
	data, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", key, err)
	}
	return &report, nil
}

// ListReports returns the archived report names for a period, oldest first
func ListReports(ctx context.Context, a Archive, period string) ([]string, error) {
	return a.List(ctx, reportPrefix+period+"/")
}

// PruneReports keeps the newest keep reports of a period and deletes the rest.
// A non-positive keep disables pruning.
func PruneReports(ctx context.Context, a Archive, period string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	names, err := ListReports(ctx, a, period)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, name := range names[:len(names)-keep] {
		if err := a.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted++
	}
	logrus.WithFields(logrus.Fields{"period": period, "deleted": deleted}).Info("Pruned archived reports")
	return deleted, nil
}
