package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAvailabilityCreated  = "availability.created"
)

// DomainEvent records one state transition. Workflows return these
// alongside the records they changed and persist them to the outbox.
type DomainEvent struct {
	Type           string     `json:"type"`
	AvailabilityID uuid.UUID  `json:"availabilityId"`
	DoctorID       uuid.UUID  `json:"doctorId"`
	AppointmentID  *uuid.UUID `json:"appointmentId,omitempty"`
	PatientID      *uuid.UUID `json:"patientId,omitempty"`
	ActorID        uuid.UUID  `json:"actorId"`
	Date           string     `json:"date"`
	StartTime      string     `json:"startTime"`
	EndTime        string     `json:"endTime"`
	OccurredAt     time.Time  `json:"occurredAt"`
}
