package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

const appointmentSelect = `
	SELECT
		a.id, a.doctor_id, a.patient_id, a.availability_id, a.status, a.notes,
		a.created_at, a.updated_at,
		to_char(s.date, 'YYYY-MM-DD') AS slot_date,
		to_char(s.start_time, 'HH24:MI') AS slot_start,
		to_char(s.end_time, 'HH24:MI') AS slot_end,
		d.name AS doctor_name, d.specialty AS doctor_specialty,
		u.first_name AS patient_first_name, u.last_name AS patient_last_name, u.email AS patient_email
	FROM appointments a
	JOIN availability s ON s.id = a.availability_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users u ON u.id = a.patient_id`

type appointmentRow struct {
	model.Appointment
	SlotDate         string `db:"slot_date"`
	SlotStart        string `db:"slot_start"`
	SlotEnd          string `db:"slot_end"`
	DoctorName       string `db:"doctor_name"`
	DoctorSpecialty  string `db:"doctor_specialty"`
	PatientFirstName string `db:"patient_first_name"`
	PatientLastName  string `db:"patient_last_name"`
	PatientEmail     string `db:"patient_email"`
}

func (row *appointmentRow) toModel() *model.Appointment {
	appt := row.Appointment
	appt.Date = row.SlotDate
	appt.StartTime = row.SlotStart
	appt.EndTime = row.SlotEnd
	appt.Doctor = &model.DoctorSummary{
		ID:        appt.DoctorID,
		Name:      row.DoctorName,
		Specialty: row.DoctorSpecialty,
	}
	appt.Patient = &model.PatientSummary{
		ID:        appt.PatientID,
		FirstName: row.PatientFirstName,
		LastName:  row.PatientLastName,
		Email:     row.PatientEmail,
	}
	return &appt
}

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, doctor_id, patient_id, availability_id, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	appointment.ID = uuid.New()
	appointment.Status = model.AppointmentStatusScheduled
	appointment.CreatedAt = time.Now().UTC()
	appointment.UpdatedAt = appointment.CreatedAt

	_, err := r.ext(ctx).ExecContext(ctx, query,
		appointment.ID,
		appointment.DoctorID,
		appointment.PatientID,
		appointment.AvailabilityID,
		appointment.Status,
		appointment.Notes,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", mapError(err))
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := appointmentSelect + ` WHERE a.id = $1`

	var row appointmentRow
	if err := sqlx.GetContext(ctx, r.ext(ctx), &row, query, id); err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", mapError(err))
	}
	return row.toModel(), nil
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.DoctorID != nil {
		conds = append(conds, "a.doctor_id = ?")
		args = append(args, *filter.DoctorID)
	}
	if filter.PatientID != nil {
		conds = append(conds, "a.patient_id = ?")
		args = append(args, *filter.PatientID)
	}
	if filter.Date != nil {
		conds = append(conds, "s.date = ?::date")
		args = append(args, *filter.Date)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "a.status IN (?)")
		args = append(args, filter.Statuses)
	}

	query := appointmentSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY s.date ASC, s.start_time ASC"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}

	ext := r.ext(ctx)
	var rows []appointmentRow
	if err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	appointments := make([]*model.Appointment, 0, len(rows))
	for i := range rows {
		appointments = append(appointments, rows[i].toModel())
	}
	return appointments, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus) (bool, error) {
	query := `
		UPDATE appointments
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.ext(ctx).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update appointment status: %w", mapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *appointmentRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	query := `UPDATE appointments SET notes = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.ext(ctx).ExecContext(ctx, query, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update appointment notes: %w", err)
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
