package model

import (
	"github.com/google/uuid"
)

// Doctor is a bookable practitioner. UserID links the doctor's login account, if any.
type Doctor struct {
	Base
	UserID    *uuid.UUID `json:"userId,omitempty" db:"user_id"`
	Name      string     `json:"name" db:"name"`
	Specialty string     `json:"specialty" db:"specialty"`
	Bio       *string    `json:"bio,omitempty" db:"bio"`
}

type CreateDoctorRequest struct {
	UserID    *uuid.UUID `json:"userId"`
	Name      string     `json:"name" binding:"required,min=3,max=255,personname"`
	Specialty string     `json:"specialty" binding:"required,min=3,max=255,alpha"`
	Bio       *string    `json:"bio" binding:"omitempty,max=1000"`
}

type UpdateDoctorRequest struct {
	Name      *string `json:"name" binding:"omitempty,min=3,max=255,personname"`
	Specialty *string `json:"specialty" binding:"omitempty,min=3,max=255,alpha"`
	Bio       *string `json:"bio" binding:"omitempty,max=1000"`
}

// DoctorSummary is the subset of a doctor embedded in appointment responses.
type DoctorSummary struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Specialty string    `json:"specialty" db:"specialty"`
}
