package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"html"

	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

// FrontDeskNotifier emails the front desk for every booked appointment
// read from the notification queue.
type FrontDeskNotifier struct {
	mailer  email.Service
	to      string
	pattern string
	logger  *logger.Logger
}

// NewFrontDeskNotifier handles envelopes tagged with pattern. An empty
// pattern means DefaultPattern.
func NewFrontDeskNotifier(mailer email.Service, to, pattern string, log *logger.Logger) *FrontDeskNotifier {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FrontDeskNotifier{
		mailer:  mailer,
		to:      to,
		pattern: pattern,
		logger:  log.Component("front-desk-notifier"),
	}
}

// Handle processes one raw queue message. Messages with another pattern are ignored.
func (n *FrontDeskNotifier) Handle(ctx context.Context, body []byte) error {
	var envelope messaging.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if envelope.Pattern != n.pattern {
		n.logger.Debug("ignoring message", "pattern", envelope.Pattern)
		return nil
	}

	var msg model.AppointmentBooked
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", n.pattern, err)
	}

	subject := fmt.Sprintf("New appointment at %s", msg.AppointmentTime)
	body = []byte(fmt.Sprintf(
		"<p>Appointment <b>%s</b> was booked with doctor %s for %s.</p>",
		html.EscapeString(msg.AppointmentID.String()),
		html.EscapeString(msg.DoctorID.String()),
		html.EscapeString(msg.AppointmentTime),
	))

	if err := n.mailer.SendCustom(ctx, n.to, subject, string(body)); err != nil {
		return fmt.Errorf("failed to email front desk for appointment %s: %w", msg.AppointmentID, err)
	}

	n.logger.Info("front desk notified", "appointment_id", msg.AppointmentID)
	return nil
}
