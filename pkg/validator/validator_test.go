package validator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
)

func TestCreateAvailabilityRequest(t *testing.T) {
	v := New()
	doctorID := uuid.New()

	tests := []struct {
		name    string
		req     model.CreateAvailabilityRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  model.CreateAvailabilityRequest{DoctorID: doctorID, Date: "2025-01-01", StartTime: "09:00", EndTime: "09:30"},
		},
		{
			name:    "end before start",
			req:     model.CreateAvailabilityRequest{DoctorID: doctorID, Date: "2025-01-01", StartTime: "10:00", EndTime: "09:00"},
			wantErr: "endTime must be after StartTime",
		},
		{
			name:    "end equals start",
			req:     model.CreateAvailabilityRequest{DoctorID: doctorID, Date: "2025-01-01", StartTime: "10:00", EndTime: "10:00"},
			wantErr: "endTime must be after StartTime",
		},
		{
			name:    "bad clock",
			req:     model.CreateAvailabilityRequest{DoctorID: doctorID, Date: "2025-01-01", StartTime: "24:00", EndTime: "09:00"},
			wantErr: "startTime must be a time in HH:MM format",
		},
		{
			name:    "bad date",
			req:     model.CreateAvailabilityRequest{DoctorID: doctorID, Date: "2025-02-30", StartTime: "09:00", EndTime: "10:00"},
			wantErr: "date must be a date in YYYY-MM-DD format",
		},
		{
			name:    "missing doctor",
			req:     model.CreateAvailabilityRequest{Date: "2025-01-01", StartTime: "09:00", EndTime: "10:00"},
			wantErr: "doctorId is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, Describe(err), tt.wantErr)
		})
	}
}

func TestCreateDoctorRequest(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(model.CreateDoctorRequest{Name: "Dr. John Doe", Specialty: "Cardiology"}))

	err := v.Struct(model.CreateDoctorRequest{Name: "J0hn", Specialty: "Cardiology"})
	require.Error(t, err)
	assert.Contains(t, Describe(err), "name may only contain letters")

	err = v.Struct(model.CreateDoctorRequest{Name: "John Doe", Specialty: "Cardio-logy"})
	require.Error(t, err)
	assert.Contains(t, Describe(err), "specialty failed alpha validation")
}

func TestRegisterBinding(t *testing.T) {
	assert.NoError(t, RegisterBinding())
}
