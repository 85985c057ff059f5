package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// CronService runs the daily cleanup of expired per-day data
type CronService struct {
	cron          *cron.Cron
	store         database.DocumentStore
	receipts      database.ReceiptStore
	limiter       *RateLimitService
	geocoder      *GeocodeService
	clock         *utils.ServiceClock
	schedule      string
	retentionDays int
	metrics       *metrics.Collector
	logger        *logrus.Logger
}

// CleanupReport summarizes one cleanup run
type CleanupReport struct {
	Cutoff         string        `json:"cutoff"`
	DailyDocuments int64         `json:"dailyDocuments"`
	Attendance     int64         `json:"attendance"`
	Receipts       int64         `json:"receipts"`
	GeocodeCache   int           `json:"geocodeCache"`
	Duration       time.Duration `json:"duration"`
}

// NewCronService creates a new CronService. Schedules use seconds precision
// and are evaluated in the service time zone.
func NewCronService(store database.DocumentStore, receipts database.ReceiptStore, limiter *RateLimitService, clock *utils.ServiceClock, schedule string, retentionDays int, m *metrics.Collector, logger *logrus.Logger) *CronService {
	if schedule == "" {
		schedule = "0 30 3 * * *"
	}
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &CronService{
		cron:          cron.New(cron.WithSeconds(), cron.WithLocation(clock.Location())),
		store:         store,
		receipts:      receipts,
		limiter:       limiter,
		clock:         clock,
		schedule:      schedule,
		retentionDays: retentionDays,
		metrics:       m,
		logger:        logger,
	}
}

// WithGeocodeCache prunes expired geocoding lookups on every cleanup run
func (s *CronService) WithGeocodeCache(g *GeocodeService) *CronService {
	s.geocoder = g
	return s
}

// Start schedules the cleanup job and starts the scheduler
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.cleanupJob); err != nil {
		return fmt.Errorf("failed to schedule cleanup job: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("[CRON] cleanup scheduled")
	return nil
}

// Stop waits for running jobs and stops the scheduler
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("[CRON] stopped")
}

func (s *CronService) cleanupJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.RunCleanupNow(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] cleanup failed")
	}
}

// RunCleanupNow deletes daily stop statuses, attendance entries and
// notification receipts older than the retention window
func (s *CronService) RunCleanupNow(ctx context.Context) (*CleanupReport, error) {
	started := time.Now()
	cutoff := s.clock.DateKey(s.clock.Now().AddDate(0, 0, -s.retentionDays))
	report := &CleanupReport{Cutoff: cutoff}

	var err error
	report.DailyDocuments, err = s.store.PurgeGroup(ctx, "daily", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge daily statuses: %w", err)
	}
	s.metrics.Purged("daily", report.DailyDocuments)

	report.Attendance, err = s.store.PurgeGroup(ctx, "asistencias", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge attendance: %w", err)
	}
	s.metrics.Purged("asistencias", report.Attendance)

	report.Receipts, err = s.receipts.PurgeBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge receipts: %w", err)
	}
	s.metrics.Purged("receipts", report.Receipts)

	if s.limiter != nil {
		s.limiter.CleanupExpired()
	}
	if s.geocoder != nil {
		report.GeocodeCache = s.geocoder.PruneCache()
	}

	report.Duration = time.Since(started)
	s.logger.WithFields(logrus.Fields{
		"cutoff":     cutoff,
		"daily":      report.DailyDocuments,
		"attendance": report.Attendance,
		"receipts":   report.Receipts,
		"geocode":    report.GeocodeCache,
		"duration":   report.Duration.String(),
	}).Info("[CRON] cleanup completed")
	return report, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
