package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("record conflicts with existing data")
)

// All repository interfaces in one file
type (
	// Transactor runs fn inside one database transaction. Repositories
	// called with the ctx passed to fn join that transaction.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		// List returns users ordered by creation time. An empty role
		// matches every role.
		List(ctx context.Context, role model.Role) ([]*model.User, error)
		Update(ctx context.Context, user *model.User) error
	}

	DoctorRepository interface {
		Create(ctx context.Context, doctor *model.Doctor) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Doctor, error)
		List(ctx context.Context, specialty string) ([]*model.Doctor, error)
		Update(ctx context.Context, doctor *model.Doctor) error
	}

	AvailabilityRepository interface {
		Create(ctx context.Context, slot *model.Availability) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Availability, error)
		// FindOverlapping reports whether any slot of the doctor on date
		// intersects [start, end).
		FindOverlapping(ctx context.Context, doctorID uuid.UUID, date, start, end string) (bool, error)
		FindAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error)
		ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error)
		SetAvailable(ctx context.Context, id uuid.UUID, available bool) error
		// Claim flips an available slot to unavailable. It returns false
		// when the slot was already taken.
		Claim(ctx context.Context, id uuid.UUID) (bool, error)
		// LockDoctorDay serialises slot creation for one doctor and date
		// until the surrounding transaction ends.
		LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date string) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error)
		// UpdateStatus moves an appointment from one status to another and
		// returns false when it was not in the expected status.
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus) (bool, error)
		UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
