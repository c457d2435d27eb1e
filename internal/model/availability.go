package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Availability is a doctor's bookable window on one date. StartTime and
// EndTime are "HH:MM" wall-clock values and Date is "YYYY-MM-DD".
type Availability struct {
	Base
	DoctorID    uuid.UUID `json:"doctorId" db:"doctor_id"`
	Date        string    `json:"date" db:"date"`
	StartTime   string    `json:"startTime" db:"start_time"`
	EndTime     string    `json:"endTime" db:"end_time"`
	IsAvailable bool      `json:"isAvailable" db:"is_available"`
}

// StartsAt combines date and start time as a zone-less wall-clock instant.
func (a *Availability) StartsAt() (time.Time, error) {
	t, err := time.Parse(DateLayout+" "+ClockLayout, a.Date+" "+a.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot start %q %q: %w", a.Date, a.StartTime, err)
	}
	return t, nil
}

type CreateAvailabilityRequest struct {
	DoctorID  uuid.UUID `json:"doctorId" binding:"required"`
	Date      string    `json:"date" binding:"required,calendardate"`
	StartTime string    `json:"startTime" binding:"required,clocktime"`
	EndTime   string    `json:"endTime" binding:"required,clocktime,clockafter=StartTime"`
}

type AvailableSlotsQuery struct {
	Date string `form:"date" json:"date" binding:"required,calendardate"`
}
