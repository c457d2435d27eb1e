package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type stubCleaner struct {
	retention time.Duration
	deleted   int64
	err       error
}

func (c *stubCleaner) CleanupProcessedEvents(_ context.Context, retention time.Duration) (int64, error) {
	c.retention = retention
	return c.deleted, c.err
}

func TestOutboxCleanupWorker_Cleanup(t *testing.T) {
	cleaner := &stubCleaner{deleted: 7}
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	w := NewOutboxCleanupWorker(cleaner, 72*time.Hour, "@daily", logger.Nop(), m)

	require.NoError(t, w.Cleanup(context.Background()))
	assert.Equal(t, 72*time.Hour, cleaner.retention)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.OutboxCleanedUp))

	cleaner.err = errors.New("db down")
	assert.Error(t, w.Cleanup(context.Background()))
}

func TestOutboxCleanupWorker_Schedule(t *testing.T) {
	w := NewOutboxCleanupWorker(&stubCleaner{}, time.Hour, "@daily", logger.Nop(), nil)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	bad := NewOutboxCleanupWorker(&stubCleaner{}, time.Hour, "every now and then", logger.Nop(), nil)
	assert.Error(t, bad.Start(context.Background()))
}
