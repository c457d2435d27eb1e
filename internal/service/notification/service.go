package notification

import (
	"context"
	"fmt"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const (
	DefaultQueue   = "queue_booked_appointment"
	DefaultPattern = "appointment.booked"
)

type Service interface {
	PublishAppointmentBooked(ctx context.Context, msg model.AppointmentBooked) error
}

type Config struct {
	Queue   string
	Pattern string
}

type service struct {
	publisher messaging.Publisher
	queue     string
	pattern   string
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(publisher messaging.Publisher, cfg Config, log *logger.Logger, m *metrics.Metrics) Service {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	return &service{
		publisher: publisher,
		queue:     cfg.Queue,
		pattern:   cfg.Pattern,
		logger:    log.Component("notification"),
		metrics:   m,
	}
}

func (s *service) PublishAppointmentBooked(ctx context.Context, msg model.AppointmentBooked) error {
	envelope, err := messaging.NewEnvelope(s.pattern, msg)
	if err != nil {
		s.metrics.Notification("error")
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := s.publisher.Publish(ctx, s.queue, envelope); err != nil {
		s.metrics.Notification("error")
		return fmt.Errorf("failed to publish %s: %w", s.pattern, err)
	}

	s.metrics.Notification("sent")
	s.logger.Debug("published booked notification",
		"appointment_id", msg.AppointmentID,
		"doctor_id", msg.DoctorID,
		"queue", s.queue,
	)
	return nil
}

type noopService struct {
	logger *logger.Logger
}

// NewNoopService is used when no message broker is configured.
func NewNoopService(log *logger.Logger) Service {
	return &noopService{logger: log.Component("notification")}
}

func (s *noopService) PublishAppointmentBooked(_ context.Context, msg model.AppointmentBooked) error {
	s.logger.Debug("notifications disabled, dropping booked notification", "appointment_id", msg.AppointmentID)
	return nil
}
