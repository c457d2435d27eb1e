package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/cache"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// DoctorLookup resolves a doctor or returns a NotFound AppError.
type DoctorLookup interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
}

type EventRecorder interface {
	Record(ctx context.Context, events ...model.DomainEvent) error
}

type Service struct {
	tx      repository.Transactor
	repo    repository.AvailabilityRepository
	doctors DoctorLookup
	events  EventRecorder
	cache   cache.SlotCache
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(
	tx repository.Transactor,
	repo repository.AvailabilityRepository,
	doctors DoctorLookup,
	events EventRecorder,
	slotCache cache.SlotCache,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		tx:      tx,
		repo:    repo,
		doctors: doctors,
		events:  events,
		cache:   slotCache,
		logger:  log.Component("availability"),
		metrics: m,
	}
}

// CreateSlot adds a bookable window for a doctor. Windows of one doctor on
// one date may not overlap.
func (s *Service) CreateSlot(ctx context.Context, identity model.Identity, req model.CreateAvailabilityRequest) (*model.Availability, error) {
	if req.StartTime >= req.EndTime {
		return nil, apperrors.Validation("endTime must be after startTime", nil)
	}
	if _, err := s.doctors.GetDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	slot := &model.Availability{
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDoctorDay(ctx, req.DoctorID, req.Date); err != nil {
			return err
		}

		overlapping, err := s.repo.FindOverlapping(ctx, req.DoctorID, req.Date, req.StartTime, req.EndTime)
		if err != nil {
			return err
		}
		if overlapping {
			return apperrors.Conflict("time slot overlaps with an existing slot", nil)
		}

		if err := s.repo.Create(ctx, slot); err != nil {
			return fmt.Errorf("failed to create slot: %w", err)
		}

		return s.events.Record(ctx, model.DomainEvent{
			Type:           model.EventAvailabilityCreated,
			AvailabilityID: slot.ID,
			DoctorID:       slot.DoctorID,
			ActorID:        identity.ID,
			Date:           slot.Date,
			StartTime:      slot.StartTime,
			EndTime:        slot.EndTime,
			OccurredAt:     time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, slot.DoctorID, slot.Date)

	s.logger.Info("availability slot created",
		"availability_id", slot.ID,
		"doctor_id", slot.DoctorID,
		"date", slot.Date,
	)
	return slot, nil
}

// GetAvailableSlots returns the open slots of a doctor on date, reading
// through the slot cache. Cache failures fall back to the store.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	if s.cache == nil {
		return s.findAvailable(ctx, doctorID, date)
	}

	cached, generation, found, err := s.cache.Get(ctx, doctorID, date)
	switch {
	case err != nil:
		s.metrics.CacheResult("error")
		s.logger.Warn(err, "slot cache read failed", "doctor_id", doctorID, "date", date)
		return s.findAvailable(ctx, doctorID, date)
	case found:
		s.metrics.CacheResult("hit")
		return cached, nil
	default:
		s.metrics.CacheResult("miss")
	}

	slots, err := s.findAvailable(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	// dropped by the cache if a claim or new slot invalidated the key meanwhile
	if err := s.cache.Set(ctx, doctorID, date, generation, slots); err != nil {
		s.logger.Warn(err, "slot cache write failed", "doctor_id", doctorID, "date", date)
	}
	return slots, nil
}

func (s *Service) findAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	slots, err := s.repo.FindAvailable(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to find available slots: %w", err)
	}
	return slots, nil
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, doctorID, date); err != nil {
		s.logger.Warn(err, "failed to invalidate slot cache", "doctor_id", doctorID, "date", date)
	}
}

// ListDoctorSlots returns every slot of a doctor on date, booked or not.
func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListByDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}
