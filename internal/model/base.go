package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Wire layouts for wall-clock dates and times. Neither carries a timezone.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)
