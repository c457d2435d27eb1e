package model

import (
	"github.com/google/uuid"
)

// AppointmentBooked is the message sent to the notification queue after a booking commits.
// AppointmentTime is the slot's date and start time, "2006-01-02T15:04:05", without zone.
type AppointmentBooked struct {
	AppointmentID   uuid.UUID `json:"appointmentId"`
	DoctorID        uuid.UUID `json:"doctorId"`
	AppointmentTime string    `json:"appointmentTime"`
}

const AppointmentTimeLayout = "2006-01-02T15:04:05"
