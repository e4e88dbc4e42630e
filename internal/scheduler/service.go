package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/engagement"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Batcher runs mention batches and stale sweeps
type Batcher interface {
	RunBatch(ctx context.Context) error
	SweepStale(ctx context.Context) (int, error)
}

// Reporter produces periodic analytics reports
type Reporter interface {
	Run(ctx context.Context, period string, length time.Duration, end time.Time) (*models.Report, error)
}

// Service handles scheduling of batches, stale sweeps and reports
type Service struct {
	config   *config.Config
	batcher  Batcher
	reporter Reporter
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a new scheduler service. reporter may be nil to skip reports.
func NewService(cfg *config.Config, batcher Batcher, reporter Reporter) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:   cfg,
		batcher:  batcher,
		reporter: reporter,
		cron: cron.New(
			cron.WithLocation(cfg.Location()),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// reportExpression returns the cron expression of the configured report schedule
func (s *Service) reportExpression() string {
	if s.config.ReportSchedule == "weekly" {
		// Monday at 9 AM
		return "0 9 * * MON"
	}
	// daily at 9 AM
	return "0 9 * * *"
}

// Start registers the jobs and starts the scheduler
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.config.PollSchedule, s.runBatch); err != nil {
		return fmt.Errorf("invalid poll schedule: %w", err)
	}

	if _, err := s.cron.AddFunc(s.config.StaleSweepSchedule, s.runStaleSweep); err != nil {
		return fmt.Errorf("invalid stale sweep schedule: %w", err)
	}

	if s.reporter != nil {
		if _, err := s.cron.AddFunc(s.reportExpression(), s.runReport); err != nil {
			return err
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started: batches %q, stale sweeps %q, %s reports (%s)",
		s.config.PollSchedule, s.config.StaleSweepSchedule, s.config.ReportSchedule, s.config.TimeZone)
	return nil
}

func (s *Service) runBatch() {
	logrus.Info("Starting scheduled mention batch")
	if err := s.batcher.RunBatch(s.ctx); err != nil {
		if errors.Is(err, engagement.ErrBatchRunning) {
			logrus.Info("Skipping scheduled batch, another batch is running")
			return
		}
		logrus.Errorf("Scheduled mention batch failed: %v", err)
	}
}

func (s *Service) runStaleSweep() {
	if _, err := s.batcher.SweepStale(s.ctx); err != nil {
		if errors.Is(err, engagement.ErrBatchRunning) {
			logrus.Info("Skipping stale sweep, a batch is running")
			return
		}
		logrus.Errorf("Stale mention sweep failed: %v", err)
	}
}

func (s *Service) runReport() {
	logrus.Infof("Generating scheduled %s report", s.config.ReportSchedule)
	if _, err := s.reporter.Run(s.ctx, s.config.ReportSchedule, s.config.ReportPeriod(), time.Now().UTC()); err != nil {
		logrus.Errorf("Scheduled report failed: %v", err)
	}
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Service) Stop() {
	if s.cron != nil {
		s.cancel()
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
