package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// EventService writes domain events to the outbox. Called inside a
// transaction, the outbox rows commit or roll back with the state change.
type EventService struct {
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
}

func NewEventService(outboxRepo repository.OutboxRepository, log *logger.Logger) *EventService {
	return &EventService{
		outboxRepo: outboxRepo,
		logger:     log.Component("event"),
	}
}

func (s *EventService) Record(ctx context.Context, events ...model.DomainEvent) error {
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
		}

		outboxEvent := &model.OutboxEvent{
			EventType: evt.Type,
			Payload:   payload,
		}
		if err := s.outboxRepo.Create(ctx, outboxEvent); err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
	}
	return nil
}

// CleanupProcessedEvents deletes processed events older than retention.
func (s *EventService) CleanupProcessedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	count, err := s.outboxRepo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}

	s.logger.Info("cleaned up processed outbox events", "deleted_count", count, "cutoff", cutoff)
	return count, nil
}
