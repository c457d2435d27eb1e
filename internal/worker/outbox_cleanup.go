package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// EventCleaner deletes processed outbox events older than the retention window.
type EventCleaner interface {
	CleanupProcessedEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// OutboxCleanupWorker runs the retention cleanup on a cron schedule.
type OutboxCleanupWorker struct {
	cleaner   EventCleaner
	retention time.Duration
	schedule  string
	timeout   time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
	cron      *cron.Cron
}

func NewOutboxCleanupWorker(cleaner EventCleaner, retention time.Duration, schedule string, log *logger.Logger, m *metrics.Metrics) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		cleaner:   cleaner,
		retention: retention,
		schedule:  schedule,
		timeout:   5 * time.Minute,
		logger:    log.Component("outbox-cleanup"),
		metrics:   m,
		cron:      cron.New(),
	}
}

// Start schedules the job and returns. Call Stop to end it.
func (w *OutboxCleanupWorker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		if err := w.Cleanup(ctx); err != nil {
			w.logger.Error(err, "outbox cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info("outbox cleanup scheduled", "schedule", w.schedule, "retention", w.retention.String())
	return nil
}

func (w *OutboxCleanupWorker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	deleted, err := w.cleaner.CleanupProcessedEvents(ctx, w.retention)
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.OutboxCleanedUp.Add(float64(deleted))
	}
	return nil
}
