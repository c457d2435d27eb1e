// Package memory implements the repository interfaces on in-process maps.
// Transactions serialise on one lock and roll back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

type txKey struct{}

type state struct {
	users   map[uuid.UUID]model.User
	doctors map[uuid.UUID]model.Doctor
	slots   map[uuid.UUID]model.Availability
	appts   map[uuid.UUID]model.Appointment
	outbox  map[uuid.UUID]model.OutboxEvent
}

func (s state) clone() state {
	c := state{
		users:   make(map[uuid.UUID]model.User, len(s.users)),
		doctors: make(map[uuid.UUID]model.Doctor, len(s.doctors)),
		slots:   make(map[uuid.UUID]model.Availability, len(s.slots)),
		appts:   make(map[uuid.UUID]model.Appointment, len(s.appts)),
		outbox:  make(map[uuid.UUID]model.OutboxEvent, len(s.outbox)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.doctors {
		c.doctors[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appts {
		c.appts[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	data     state
	failures map[string]error
}

func NewStore() *Store {
	return &Store{
		data: state{
			users:   map[uuid.UUID]model.User{},
			doctors: map[uuid.UUID]model.Doctor{},
			slots:   map[uuid.UUID]model.Availability{},
			appts:   map[uuid.UUID]model.Appointment{},
			outbox:  map[uuid.UUID]model.OutboxEvent{},
		},
		failures: map[string]error{},
	}
}

// FailNext makes the next call of op return err. Ops are named
// "<table>.<method>", e.g. "appointments.create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// lock acquires the data lock and returns the injected failure for op, if any.
func (s *Store) lock(op string) error {
	s.mu.Lock()
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snapshot
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) Users() repository.UserRepository               { return &userRepository{s} }
func (s *Store) Doctors() repository.DoctorRepository           { return &doctorRepository{s} }
func (s *Store) Availability() repository.AvailabilityRepository { return &availabilityRepository{s} }
func (s *Store) Appointments() repository.AppointmentRepository { return &appointmentRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxRepository{s} }

type userRepository struct{ s *Store }

func (r *userRepository) Create(_ context.Context, user *model.User) error {
	if err := r.s.lock("users.create"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, u := range r.s.data.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: users_email_key", repository.ErrConflict)
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.s.data.users[user.ID] = *user
	return nil
}

func (r *userRepository) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if err := r.s.lock("users.get"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	u, ok := r.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.data.users {
		if u.Email == strings.ToLower(email) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepository) List(_ context.Context, role model.Role) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	users := []*model.User{}
	for _, u := range r.s.data.users {
		if role != "" && u.Role != role {
			continue
		}
		u := u
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID.String() < users[j].ID.String()
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (r *userRepository) Update(_ context.Context, user *model.User) error {
	if err := r.s.lock("users.update"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	existing, ok := r.s.data.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	user.Email = strings.ToLower(user.Email)
	for id, u := range r.s.data.users {
		if id != user.ID && u.Email == user.Email {
			return fmt.Errorf("%w: users_email_key", repository.ErrConflict)
		}
	}

	existing.FirstName = user.FirstName
	existing.LastName = user.LastName
	existing.Email = user.Email
	existing.PasswordHash = user.PasswordHash
	existing.Role = user.Role
	existing.UpdatedAt = time.Now().UTC()
	user.UpdatedAt = existing.UpdatedAt
	r.s.data.users[user.ID] = existing
	return nil
}

type doctorRepository struct{ s *Store }

func (r *doctorRepository) Create(_ context.Context, doctor *model.Doctor) error {
	if err := r.s.lock("doctors.create"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	doctor.ID = uuid.New()
	doctor.CreatedAt = time.Now().UTC()
	doctor.UpdatedAt = doctor.CreatedAt
	r.s.data.doctors[doctor.ID] = *doctor
	return nil
}

func (r *doctorRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	if err := r.s.lock("doctors.get"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	d, ok := r.s.data.doctors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *doctorRepository) GetByUserID(_ context.Context, userID uuid.UUID) (*model.Doctor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.data.doctors {
		if d.UserID != nil && *d.UserID == userID {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *doctorRepository) List(_ context.Context, specialty string) ([]*model.Doctor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	doctors := []*model.Doctor{}
	for _, d := range r.s.data.doctors {
		if specialty != "" && !strings.EqualFold(d.Specialty, specialty) {
			continue
		}
		d := d
		doctors = append(doctors, &d)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors, nil
}

func (r *doctorRepository) Update(_ context.Context, doctor *model.Doctor) error {
	if err := r.s.lock("doctors.update"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	existing, ok := r.s.data.doctors[doctor.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Name = doctor.Name
	existing.Specialty = doctor.Specialty
	existing.Bio = doctor.Bio
	existing.UpdatedAt = time.Now().UTC()
	doctor.UpdatedAt = existing.UpdatedAt
	r.s.data.doctors[doctor.ID] = existing
	return nil
}

type availabilityRepository struct{ s *Store }

func (r *availabilityRepository) Create(_ context.Context, slot *model.Availability) error {
	if err := r.s.lock("availability.create"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.doctors[slot.DoctorID]; !ok {
		return fmt.Errorf("doctor %s: %w", slot.DoctorID, repository.ErrNotFound)
	}
	slot.ID = uuid.New()
	slot.IsAvailable = true
	slot.CreatedAt = time.Now().UTC()
	slot.UpdatedAt = slot.CreatedAt
	r.s.data.slots[slot.ID] = *slot
	return nil
}

func (r *availabilityRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Availability, error) {
	if err := r.s.lock("availability.get"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	slot, ok := r.s.data.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &slot, nil
}

// HH:MM and YYYY-MM-DD order lexically, so plain string comparison is enough here.
func (r *availabilityRepository) FindOverlapping(_ context.Context, doctorID uuid.UUID, date, start, end string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, slot := range r.s.data.slots {
		if slot.DoctorID == doctorID && slot.Date == date && slot.StartTime < end && slot.EndTime > start {
			return true, nil
		}
	}
	return false, nil
}

func (r *availabilityRepository) FindAvailable(_ context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	if err := r.s.lock("availability.find_available"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()
	return r.s.slotsOf(doctorID, date, true), nil
}

func (r *availabilityRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.slotsOf(doctorID, date, false), nil
}

func (s *Store) slotsOf(doctorID uuid.UUID, date string, onlyAvailable bool) []*model.Availability {
	slots := []*model.Availability{}
	for _, slot := range s.data.slots {
		if slot.DoctorID != doctorID || (date != "" && slot.Date != date) {
			continue
		}
		if onlyAvailable && !slot.IsAvailable {
			continue
		}
		slot := slot
		slots = append(slots, &slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		return slots[i].StartTime < slots[j].StartTime
	})
	return slots
}

func (r *availabilityRepository) SetAvailable(_ context.Context, id uuid.UUID, available bool) error {
	if err := r.s.lock("availability.set_available"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	slot, ok := r.s.data.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	slot.IsAvailable = available
	slot.UpdatedAt = time.Now().UTC()
	r.s.data.slots[id] = slot
	return nil
}

func (r *availabilityRepository) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	if err := r.s.lock("availability.claim"); err != nil {
		r.s.mu.Unlock()
		return false, err
	}
	defer r.s.mu.Unlock()

	slot, ok := r.s.data.slots[id]
	if !ok || !slot.IsAvailable {
		return false, nil
	}
	slot.IsAvailable = false
	slot.UpdatedAt = time.Now().UTC()
	r.s.data.slots[id] = slot
	return true, nil
}

// LockDoctorDay relies on the store-wide transaction lock.
func (r *availabilityRepository) LockDoctorDay(ctx context.Context, _ uuid.UUID, _ string) error {
	if !inTx(ctx) {
		return fmt.Errorf("LockDoctorDay requires a transaction")
	}
	return nil
}

type appointmentRepository struct{ s *Store }

func (r *appointmentRepository) Create(_ context.Context, appointment *model.Appointment) error {
	if err := r.s.lock("appointments.create"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	for _, a := range r.s.data.appts {
		if a.AvailabilityID == appointment.AvailabilityID && a.Status == model.AppointmentStatusScheduled {
			return fmt.Errorf("%w: uq_appointments_scheduled_slot", repository.ErrConflict)
		}
	}
	appointment.ID = uuid.New()
	appointment.Status = model.AppointmentStatusScheduled
	appointment.CreatedAt = time.Now().UTC()
	appointment.UpdatedAt = appointment.CreatedAt
	r.s.data.appts[appointment.ID] = *appointment
	return nil
}

func (r *appointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	if err := r.s.lock("appointments.get"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	a, ok := r.s.data.appts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.populate(a), nil
}

// populate mirrors the joined columns the SQL store returns.
func (s *Store) populate(a model.Appointment) *model.Appointment {
	if slot, ok := s.data.slots[a.AvailabilityID]; ok {
		a.Date, a.StartTime, a.EndTime = slot.Date, slot.StartTime, slot.EndTime
	}
	if d, ok := s.data.doctors[a.DoctorID]; ok {
		a.Doctor = &model.DoctorSummary{ID: d.ID, Name: d.Name, Specialty: d.Specialty}
	}
	if u, ok := s.data.users[a.PatientID]; ok {
		a.Patient = &model.PatientSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
	}
	return &a
}

func (r *appointmentRepository) List(_ context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	if err := r.s.lock("appointments.list"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	list := []*model.Appointment{}
	for _, a := range r.s.data.appts {
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, a.Status) {
			continue
		}
		full := r.s.populate(a)
		if filter.Date != nil && full.Date != *filter.Date {
			continue
		}
		list = append(list, full)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].StartTime < list[j].StartTime
	})
	return list, nil
}

func hasStatus(statuses []model.AppointmentStatus, status model.AppointmentStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *appointmentRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.AppointmentStatus) (bool, error) {
	if err := r.s.lock("appointments.update_status"); err != nil {
		r.s.mu.Unlock()
		return false, err
	}
	defer r.s.mu.Unlock()

	a, ok := r.s.data.appts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	r.s.data.appts[id] = a
	return true, nil
}

func (r *appointmentRepository) UpdateNotes(_ context.Context, id uuid.UUID, notes *string) error {
	if err := r.s.lock("appointments.update_notes"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	a, ok := r.s.data.appts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Notes = notes
	a.UpdatedAt = time.Now().UTC()
	r.s.data.appts[id] = a
	return nil
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	if err := r.s.lock("outbox.create"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Status = model.OutboxStatusPending
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	r.s.data.outbox[event.ID] = *event
	return nil
}

func (r *outboxRepository) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	if err := r.s.lock("outbox.get_pending"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()

	now := time.Now()
	events := []*model.OutboxEvent{}
	for _, e := range r.s.data.outbox {
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		e := e
		events = append(events, &e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	if err := r.s.lock("outbox.update_status"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()

	e, ok := r.s.data.outbox[id]
	if !ok {
		return nil
	}
	e.Status = status
	e.ErrorMessage = errorMessage
	e.RetryAt = retryAt
	if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
		e.RetryCount++
	}
	if status == model.OutboxStatusProcessed {
		now := time.Now().UTC()
		e.ProcessedAt = &now
	}
	e.UpdatedAt = time.Now().UTC()
	r.s.data.outbox[id] = e
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var deleted int64
	for id, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.data.outbox, id)
			deleted++
		}
	}
	return deleted, nil
}

// OutboxEvents returns every stored event of the given type, oldest first.
func (s *Store) OutboxEvents(eventType string) []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := []model.OutboxEvent{}
	for _, e := range s.data.outbox {
		if eventType == "" || e.EventType == eventType {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events
}
