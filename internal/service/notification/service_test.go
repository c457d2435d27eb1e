package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

type recordingPublisher struct {
	channel string
	body    []byte
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.channel = channel
	raw, err := json.Marshal(message)
	p.body = raw
	return err
}

func TestPublishAppointmentBooked(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(pub, Config{}, logger.Nop(), nil)

	msg := model.AppointmentBooked{
		AppointmentID:   uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		DoctorID:        uuid.MustParse("9b2f7f7e-6d8a-4c38-9a3b-1d1c2f3e4a5b"),
		AppointmentTime: "2025-01-01T09:00:00",
	}
	require.NoError(t, svc.PublishAppointmentBooked(context.Background(), msg))

	assert.Equal(t, DefaultQueue, pub.channel)
	assert.JSONEq(t, `{
		"pattern": "appointment.booked",
		"data": {
			"appointmentId": "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			"doctorId": "9b2f7f7e-6d8a-4c38-9a3b-1d1c2f3e4a5b",
			"appointmentTime": "2025-01-01T09:00:00"
		}
	}`, string(pub.body))
}

func TestPublishAppointmentBooked_PublisherError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	svc := NewService(pub, Config{Queue: "custom"}, logger.Nop(), nil)

	err := svc.PublishAppointmentBooked(context.Background(), model.AppointmentBooked{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNoopService(t *testing.T) {
	assert.NoError(t, NewNoopService(logger.Nop()).PublishAppointmentBooked(context.Background(), model.AppointmentBooked{}))
}
