package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type stubPublisher struct {
	mu        sync.Mutex
	published map[string][]json.RawMessage
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.published == nil {
		p.published = map[string][]json.RawMessage{}
	}
	p.published[channel] = append(p.published[channel], message.(json.RawMessage))
	return nil
}

func newProcessor(t *testing.T, pub *stubPublisher, attempts int) (*OutboxProcessor, *memory.Store, *metrics.Metrics) {
	t.Helper()
	store := memory.NewStore()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	p := NewOutboxProcessor(store, store.Outbox(), pub, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Second,
	}, logger.Nop(), m)
	return p, store, m
}

func addEvent(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	event := &model.OutboxEvent{EventType: eventType, Payload: json.RawMessage(`{"doctorId":"d1"}`)}
	require.NoError(t, store.Outbox().Create(context.Background(), event))
	return event
}

func TestProcessBatch_PublishesAndMarksProcessed(t *testing.T) {
	pub := &stubPublisher{}
	p, store, m := newProcessor(t, pub, 3)

	addEvent(t, store, model.EventAppointmentCreated)
	addEvent(t, store, model.EventAppointmentCancelled)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	require.Len(t, pub.published[model.EventAppointmentCreated], 1)
	assert.JSONEq(t, `{"doctorId":"d1"}`, string(pub.published[model.EventAppointmentCreated][0]))

	for _, e := range store.OutboxEvents("") {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboxEventsProcessed))

	delivered, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestProcessBatch_RetriesThenFails(t *testing.T) {
	pub := &stubPublisher{err: errors.New("redis down")}
	p, store, m := newProcessor(t, pub, 2)
	now := time.Now()
	p.now = func() time.Time { return now.Add(-time.Hour) }

	event := addEvent(t, store, model.EventAppointmentCreated)

	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	events := store.OutboxEvents("")
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusRetry, events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "redis down", *events[0].ErrorMessage)

	// retry_at is in the past, so the next batch picks it up again
	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)

	events = store.OutboxEvents("")
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, model.OutboxStatusFailed, events[0].Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsFailed))

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.OutboxEvents("")[0].RetryCount)
}

func TestProcessBatch_RetryWaitsForBackoff(t *testing.T) {
	pub := &stubPublisher{err: errors.New("redis down")}
	p, store, _ := newProcessor(t, pub, 5)
	addEvent(t, store, model.EventAppointmentCreated)

	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	pub.err = nil
	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 0))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 2))
	assert.Equal(t, time.Hour, backoff(time.Minute, 10))
}
