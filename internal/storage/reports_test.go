package storage

import (
	"context"
	"testing"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportKey(t *testing.T) {
	at := time.Date(2026, 1, 5, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "reports/daily/2026-01-05T07-30-00Z.json", ReportKey("daily", at))
}

func TestSaveAndLoadReport(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArchive()
	report := &models.Report{
		GeneratedAt: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
		Period:      "daily",
		Snapshot:    &models.AnalyticsSnapshot{TotalMentions: 12, ResponseRate: 0.25},
	}

	key, err := SaveReport(ctx, a, report)
	require.NoError(t, err)

	loaded, err := LoadReport(ctx, a, key)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Snapshot.TotalMentions)
	assert.Equal(t, 0.25, loaded.Snapshot.ResponseRate)

	_, err = LoadReport(ctx, a, "reports/daily/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneReports(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArchive()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := SaveReport(ctx, a, &models.Report{GeneratedAt: start.AddDate(0, 0, i), Period: "daily"})
		require.NoError(t, err)
	}
	_, err := SaveReport(ctx, a, &models.Report{GeneratedAt: start, Period: "weekly"})
	require.NoError(t, err)

	deleted, err := PruneReports(ctx, a, "daily", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	names, err := ListReports(ctx, a, "daily")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reports/daily/2026-01-04T00-00-00Z.json",
		"reports/daily/2026-01-05T00-00-00Z.json",
	}, names)

	weekly, err := ListReports(ctx, a, "weekly")
	require.NoError(t, err)
	assert.Len(t, weekly, 1)

	deleted, err = PruneReports(ctx, a, "daily", 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
