package model

import (
	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Appointment links a patient to one availability slot of one doctor.
// Date, StartTime and EndTime are copied from the slot on reads.
type Appointment struct {
	Base
	DoctorID       uuid.UUID         `json:"doctorId" db:"doctor_id"`
	PatientID      uuid.UUID         `json:"patientId" db:"patient_id"`
	AvailabilityID uuid.UUID         `json:"availabilityId" db:"availability_id"`
	Status         AppointmentStatus `json:"status" db:"status"`
	Notes          *string           `json:"notes,omitempty" db:"notes"`

	Date      string          `json:"date,omitempty" db:"-"`
	StartTime string          `json:"startTime,omitempty" db:"-"`
	EndTime   string          `json:"endTime,omitempty" db:"-"`
	Doctor    *DoctorSummary  `json:"doctor,omitempty" db:"-"`
	Patient   *PatientSummary `json:"patient,omitempty" db:"-"`
}

type CreateAppointmentRequest struct {
	DoctorID       uuid.UUID `json:"doctorId" binding:"required"`
	AvailabilityID uuid.UUID `json:"availabilityId" binding:"required"`
	Notes          *string   `json:"notes" binding:"omitempty,max=1000"`
}

// UpdateAppointmentRequest replaces the notes. A null value clears them.
type UpdateAppointmentRequest struct {
	Notes *string `json:"notes" binding:"omitempty,max=1000"`
}

// AppointmentFilter narrows appointment listings. Nil fields do not filter.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *string
	Statuses  []AppointmentStatus
}

type DoctorAppointmentsQuery struct {
	Date string `form:"date" json:"date" binding:"omitempty,calendardate"`
}
