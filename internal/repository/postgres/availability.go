package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

const availabilityColumns = `
	id, doctor_id,
	to_char(date, 'YYYY-MM-DD') AS date,
	to_char(start_time, 'HH24:MI') AS start_time,
	to_char(end_time, 'HH24:MI') AS end_time,
	is_available, created_at, updated_at`

type availabilityRepository struct {
	BaseRepository
}

func NewAvailabilityRepository(base BaseRepository) repository.AvailabilityRepository {
	return &availabilityRepository{base}
}

func (r *availabilityRepository) Create(ctx context.Context, slot *model.Availability) error {
	query := `
		INSERT INTO availability (
			id, doctor_id, date, start_time, end_time, is_available, created_at, updated_at
		) VALUES ($1, $2, $3::date, $4::time, $5::time, $6, $7, $8)
	`

	slot.ID = uuid.New()
	slot.IsAvailable = true
	slot.CreatedAt = time.Now().UTC()
	slot.UpdatedAt = slot.CreatedAt

	_, err := r.ext(ctx).ExecContext(ctx, query,
		slot.ID,
		slot.DoctorID,
		slot.Date,
		slot.StartTime,
		slot.EndTime,
		slot.IsAvailable,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create availability: %w", mapError(err))
	}
	return nil
}

func (r *availabilityRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Availability, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability WHERE id = $1`

	var slot model.Availability
	if err := sqlx.GetContext(ctx, r.ext(ctx), &slot, query, id); err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", mapError(err))
	}
	return &slot, nil
}

func (r *availabilityRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, date, start, end string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM availability
			WHERE doctor_id = $1
			AND date = $2::date
			AND start_time < $4::time
			AND end_time > $3::time
		)
	`

	var exists bool
	if err := sqlx.GetContext(ctx, r.ext(ctx), &exists, query, doctorID, date, start, end); err != nil {
		return false, fmt.Errorf("failed to check overlapping availability: %w", err)
	}
	return exists, nil
}

func (r *availabilityRepository) FindAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	query := `SELECT ` + availabilityColumns + `
		FROM availability
		WHERE doctor_id = $1 AND date = $2::date AND is_available = TRUE
		ORDER BY start_time ASC
	`

	slots := []*model.Availability{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &slots, query, doctorID, date); err != nil {
		return nil, fmt.Errorf("failed to find available slots: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	query := `SELECT ` + availabilityColumns + `
		FROM availability
		WHERE doctor_id = $1 AND date = $2::date
		ORDER BY start_time ASC
	`

	slots := []*model.Availability{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &slots, query, doctorID, date); err != nil {
		return nil, fmt.Errorf("failed to list availability: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) SetAvailable(ctx context.Context, id uuid.UUID, available bool) error {
	query := `UPDATE availability SET is_available = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.ext(ctx).ExecContext(ctx, query, available, id)
	if err != nil {
		return fmt.Errorf("failed to update availability: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *availabilityRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE availability
		SET is_available = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_available = TRUE
	`

	result, err := r.ext(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim availability: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *availabilityRepository) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	if !inTx(ctx) {
		return fmt.Errorf("doctor day lock requires a transaction")
	}

	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.ext(ctx).ExecContext(ctx, query, doctorID.String()+":"+date); err != nil {
		return fmt.Errorf("failed to lock doctor day: %w", err)
	}
	return nil
}
