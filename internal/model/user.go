package model

import (
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// User represents a system user
type User struct {
	Base
	FirstName    string `json:"firstName" db:"first_name"`
	LastName     string `json:"lastName" db:"last_name"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"role" db:"role"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// CreateUserRequest represents user creation parameters
type CreateUserRequest struct {
	FirstName string `json:"firstName" binding:"required,min=3,max=50"`
	LastName  string `json:"lastName" binding:"required,min=3,max=50"`
	Email     string `json:"email" binding:"required,email,max=50"`
	Password  string `json:"password" binding:"required,min=6,max=50"`
	Role      Role   `json:"role" binding:"required,oneof=admin doctor patient"`
}

// UpdateUserRequest changes only the fields that are set.
type UpdateUserRequest struct {
	FirstName *string `json:"firstName" binding:"omitempty,min=3,max=50"`
	LastName  *string `json:"lastName" binding:"omitempty,min=3,max=50"`
	Email     *string `json:"email" binding:"omitempty,email,max=50"`
	Password  *string `json:"password" binding:"omitempty,min=6,max=50"`
	Role      *Role   `json:"role" binding:"omitempty,oneof=admin doctor patient"`
}

// UserListQuery filters GET /users.
type UserListQuery struct {
	Role Role `form:"role" binding:"omitempty,oneof=admin doctor patient"`
}

// PatientSummary is the subset of a user embedded in appointment responses.
type PatientSummary struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FirstName string    `json:"firstName" db:"first_name"`
	LastName  string    `json:"lastName" db:"last_name"`
	Email     string    `json:"email" db:"email"`
}
