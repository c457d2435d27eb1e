// Package booking books and cancels appointments against availability slots.
//
// A slot is claimed with a conditional update inside the same transaction
// that inserts the appointment and its outbox event, so two concurrent
// bookings of one slot cannot both succeed. Cache invalidation and the
// booked notification run after commit and never fail the request.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/cache"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service/notification"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// EventRecorder persists domain events, joining the transaction in ctx.
type EventRecorder interface {
	Record(ctx context.Context, events ...model.DomainEvent) error
}

// Result is a completed workflow step and the events it produced.
type Result struct {
	Appointment *model.Appointment  `json:"appointment"`
	Events      []model.DomainEvent `json:"-"`
}

type Dependencies struct {
	Transactor   repository.Transactor
	Doctors      repository.DoctorRepository
	Users        repository.UserRepository
	Availability repository.AvailabilityRepository
	Appointments repository.AppointmentRepository
	Events       EventRecorder
	Cache        cache.SlotCache
	Notifier     notification.Service
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

type Service struct {
	tx       repository.Transactor
	doctors  repository.DoctorRepository
	users    repository.UserRepository
	slots    repository.AvailabilityRepository
	appts    repository.AppointmentRepository
	events   EventRecorder
	cache    cache.SlotCache
	notifier notification.Service
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		tx:       deps.Transactor,
		doctors:  deps.Doctors,
		users:    deps.Users,
		slots:    deps.Availability,
		appts:    deps.Appointments,
		events:   deps.Events,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		logger:   log.Component("booking"),
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Book reserves the slot for the calling patient.
func (s *Service) Book(ctx context.Context, identity model.Identity, req model.CreateAppointmentRequest) (*Result, error) {
	doctor, err := s.doctors.GetByID(ctx, req.DoctorID)
	if err != nil {
		return nil, s.fail("book", lookupError("doctor", err))
	}

	patient, err := s.users.GetByID(ctx, identity.ID)
	if err != nil {
		return nil, s.fail("book", lookupError("patient", err))
	}

	slot, err := s.slots.GetByID(ctx, req.AvailabilityID)
	if err != nil {
		return nil, s.fail("book", lookupError("availability slot", err))
	}
	if slot.DoctorID != doctor.ID {
		return nil, s.fail("book", apperrors.NotFound("availability slot", nil))
	}

	appointment := &model.Appointment{
		DoctorID:       doctor.ID,
		PatientID:      patient.ID,
		AvailabilityID: slot.ID,
		Notes:          req.Notes,
	}
	var events []model.DomainEvent

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		claimed, err := s.slots.Claim(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("failed to claim slot: %w", err)
		}
		if !claimed {
			return apperrors.Conflict("availability slot is already booked", nil)
		}

		if err := s.appts.Create(ctx, appointment); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.Conflict("availability slot is already booked", err)
			}
			return fmt.Errorf("failed to create appointment: %w", err)
		}

		events = []model.DomainEvent{s.event(model.EventAppointmentCreated, identity, appointment, slot)}
		return s.events.Record(ctx, events...)
	})
	if err != nil {
		return nil, s.fail("book", err)
	}

	appointment.Date, appointment.StartTime, appointment.EndTime = slot.Date, slot.StartTime, slot.EndTime
	appointment.Doctor = &model.DoctorSummary{ID: doctor.ID, Name: doctor.Name, Specialty: doctor.Specialty}
	appointment.Patient = &model.PatientSummary{
		ID:        patient.ID,
		FirstName: patient.FirstName,
		LastName:  patient.LastName,
		Email:     patient.Email,
	}

	s.invalidate(ctx, slot.DoctorID, slot.Date)
	s.notifyBooked(ctx, appointment, slot)

	s.metrics.Booking("book", "success")
	s.logger.Info("appointment booked",
		"appointment_id", appointment.ID,
		"doctor_id", doctor.ID,
		"availability_id", slot.ID,
	)
	return &Result{Appointment: appointment, Events: events}, nil
}

// Cancel soft-cancels a scheduled appointment and releases its slot.
// Only the appointment's patient or its doctor may cancel.
func (s *Service) Cancel(ctx context.Context, identity model.Identity, appointmentID uuid.UUID) (*Result, error) {
	appointment, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, s.fail("cancel", lookupError("appointment", err))
	}

	allowed, err := s.isParticipant(ctx, identity, appointment)
	if err != nil {
		return nil, s.fail("cancel", err)
	}
	if !allowed {
		return nil, s.fail("cancel", apperrors.Forbidden("only the patient or the doctor can cancel this appointment"))
	}

	if appointment.Status != model.AppointmentStatusScheduled {
		return nil, s.fail("cancel", apperrors.InvalidState(fmt.Sprintf("appointment is already %s", appointment.Status)))
	}

	slot, err := s.slots.GetByID(ctx, appointment.AvailabilityID)
	if err != nil {
		return nil, s.fail("cancel", fmt.Errorf("failed to load slot: %w", err))
	}

	var events []model.DomainEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		updated, err := s.appts.UpdateStatus(ctx, appointment.ID, model.AppointmentStatusScheduled, model.AppointmentStatusCancelled)
		if err != nil {
			return fmt.Errorf("failed to cancel appointment: %w", err)
		}
		if !updated {
			return apperrors.InvalidState("appointment is no longer scheduled")
		}

		if err := s.slots.SetAvailable(ctx, slot.ID, true); err != nil {
			return fmt.Errorf("failed to release slot: %w", err)
		}

		events = []model.DomainEvent{s.event(model.EventAppointmentCancelled, identity, appointment, slot)}
		return s.events.Record(ctx, events...)
	})
	if err != nil {
		return nil, s.fail("cancel", err)
	}

	appointment.Status = model.AppointmentStatusCancelled
	appointment.UpdatedAt = s.now()

	s.invalidate(ctx, slot.DoctorID, slot.Date)

	s.metrics.Booking("cancel", "success")
	s.logger.Info("appointment cancelled",
		"appointment_id", appointment.ID,
		"actor_id", identity.ID,
	)
	return &Result{Appointment: appointment, Events: events}, nil
}

// Get returns an appointment visible to its patient, its doctor or an admin.
func (s *Service) Get(ctx context.Context, identity model.Identity, appointmentID uuid.UUID) (*model.Appointment, error) {
	appointment, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, lookupError("appointment", err)
	}
	if identity.IsAdmin() {
		return appointment, nil
	}

	allowed, err := s.isParticipant(ctx, identity, appointment)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.Forbidden("not allowed to view this appointment")
	}
	return appointment, nil
}

// UpdateNotes replaces the notes of an appointment. Admins and the
// appointment's participants may edit notes until it is cancelled.
func (s *Service) UpdateNotes(ctx context.Context, identity model.Identity, appointmentID uuid.UUID, req model.UpdateAppointmentRequest) (*model.Appointment, error) {
	appointment, err := s.Get(ctx, identity, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status == model.AppointmentStatusCancelled {
		return nil, apperrors.InvalidState("appointment is already cancelled")
	}

	if err := s.appts.UpdateNotes(ctx, appointment.ID, req.Notes); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to update appointment notes: %w", err)
	}
	appointment.Notes = req.Notes
	appointment.UpdatedAt = s.now()

	s.logger.Info("appointment notes updated", "appointment_id", appointment.ID, "actor_id", identity.ID)
	return appointment, nil
}

// ListDoctorAppointments returns the doctor's scheduled appointments,
// optionally limited to one date. Doctors may only list their own.
func (s *Service) ListDoctorAppointments(ctx context.Context, identity model.Identity, doctorID uuid.UUID, date *string) ([]*model.Appointment, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, lookupError("doctor", err)
	}
	if !identity.IsAdmin() {
		own, err := s.operates(ctx, identity, doctorID)
		if err != nil {
			return nil, err
		}
		if !own {
			return nil, apperrors.Forbidden("doctors can only list their own appointments")
		}
	}

	appointments, err := s.appts.List(ctx, model.AppointmentFilter{
		DoctorID: &doctorID,
		Date:     date,
		Statuses: []model.AppointmentStatus{model.AppointmentStatusScheduled},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list doctor appointments: %w", err)
	}
	return appointments, nil
}

// ListPatientAppointments returns the patient's scheduled appointments.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID) ([]*model.Appointment, error) {
	appointments, err := s.appts.List(ctx, model.AppointmentFilter{
		PatientID: &patientID,
		Statuses:  []model.AppointmentStatus{model.AppointmentStatusScheduled},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list patient appointments: %w", err)
	}
	return appointments, nil
}

// isParticipant matches the identity against the appointment's patient and
// doctor.
func (s *Service) isParticipant(ctx context.Context, identity model.Identity, appointment *model.Appointment) (bool, error) {
	if appointment.PatientID == identity.ID {
		return true, nil
	}
	return s.operates(ctx, identity, appointment.DoctorID)
}

// operates reports whether identity acts as the doctor, either by doctor id
// or through the user account linked to the doctor record.
func (s *Service) operates(ctx context.Context, identity model.Identity, doctorID uuid.UUID) (bool, error) {
	if identity.ID == doctorID {
		return true, nil
	}

	linked, err := s.doctors.GetByUserID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve doctor account: %w", err)
	}
	return linked.ID == doctorID, nil
}

func (s *Service) event(eventType string, identity model.Identity, appointment *model.Appointment, slot *model.Availability) model.DomainEvent {
	appointmentID := appointment.ID
	patientID := appointment.PatientID
	return model.DomainEvent{
		Type:           eventType,
		AvailabilityID: slot.ID,
		DoctorID:       slot.DoctorID,
		AppointmentID:  &appointmentID,
		PatientID:      &patientID,
		ActorID:        identity.ID,
		Date:           slot.Date,
		StartTime:      slot.StartTime,
		EndTime:        slot.EndTime,
		OccurredAt:     s.now(),
	}
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, doctorID, date); err != nil {
		s.logger.Warn(err, "failed to invalidate slot cache", "doctor_id", doctorID, "date", date)
	}
}

func (s *Service) notifyBooked(ctx context.Context, appointment *model.Appointment, slot *model.Availability) {
	if s.notifier == nil {
		return
	}

	startsAt, err := slot.StartsAt()
	if err != nil {
		s.logger.Warn(err, "skipping booked notification", "appointment_id", appointment.ID)
		return
	}

	msg := model.AppointmentBooked{
		AppointmentID:   appointment.ID,
		DoctorID:        appointment.DoctorID,
		AppointmentTime: startsAt.Format(model.AppointmentTimeLayout),
	}
	if err := s.notifier.PublishAppointmentBooked(ctx, msg); err != nil {
		s.logger.Warn(err, "failed to publish booked notification", "appointment_id", appointment.ID)
	}
}

func (s *Service) fail(operation string, err error) error {
	outcome := "error"
	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Code {
		case apperrors.ErrConflict:
			outcome = "conflict"
		case apperrors.ErrNotFound:
			outcome = "not_found"
		case apperrors.ErrForbidden:
			outcome = "forbidden"
		case apperrors.ErrInvalidState:
			outcome = "invalid_state"
		}
	}
	s.metrics.Booking(operation, outcome)
	return err
}

func lookupError(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return fmt.Errorf("failed to load %s: %w", resource, err)
}
