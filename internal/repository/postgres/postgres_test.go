package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

// openTestDB connects to TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	_ = godotenv.Load("../../../.env.test")

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	db, err := NewDB(config.DatabaseConfig{URL: url, MaxOpenConns: 20})
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	base     BaseRepository
	users    repository.UserRepository
	doctors  repository.DoctorRepository
	slots    repository.AvailabilityRepository
	appts    repository.AppointmentRepository
	outbox   repository.OutboxRepository
	patient  *model.User
	doctor   *model.Doctor
	testDate string
}

func newFixture(t *testing.T, db *sqlx.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	base := NewBaseRepository(db)

	f := &fixture{
		base:    base,
		users:   NewUserRepository(base),
		doctors: NewDoctorRepository(base),
		slots:   NewAvailabilityRepository(base),
		appts:   NewAppointmentRepository(base),
		outbox:  NewOutboxRepository(base),
		// a far future date keeps runs independent
		testDate: time.Now().AddDate(5, 0, int(time.Now().UnixNano()%300)).Format(model.DateLayout),
	}

	f.patient = &model.User{
		FirstName:    "Pat",
		LastName:     "Ient",
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
		Role:         model.RolePatient,
	}
	require.NoError(t, f.users.Create(ctx, f.patient))

	f.doctor = &model.Doctor{Name: "Gregory House", Specialty: "Diagnostics"}
	require.NoError(t, f.doctors.Create(ctx, f.doctor))

	return f
}

func (f *fixture) slot(t *testing.T, start, end string) *model.Availability {
	t.Helper()
	slot := &model.Availability{DoctorID: f.doctor.ID, Date: f.testDate, StartTime: start, EndTime: end}
	require.NoError(t, f.slots.Create(context.Background(), slot))
	return slot
}

func TestAvailabilityRepository_RoundTripAndOverlap(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	slot := f.slot(t, "09:00", "09:30")

	got, err := f.slots.GetByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, f.testDate, got.Date)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, "09:30", got.EndTime)
	assert.True(t, got.IsAvailable)

	cases := []struct {
		start, end string
		overlap    bool
	}{
		{"09:00", "09:30", true},
		{"08:45", "09:05", true},
		{"09:15", "10:00", true},
		{"08:00", "10:00", true},
		{"09:30", "10:00", false},
		{"08:00", "09:00", false},
	}
	for _, tc := range cases {
		overlap, err := f.slots.FindOverlapping(ctx, f.doctor.ID, f.testDate, tc.start, tc.end)
		require.NoError(t, err)
		assert.Equal(t, tc.overlap, overlap, "%s-%s", tc.start, tc.end)
	}

	_, err = f.slots.GetByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestAvailabilityRepository_ConcurrentClaim(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	slot := f.slot(t, "11:00", "11:30")

	var (
		wg      sync.WaitGroup
		winners int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.slots.Claim(context.Background(), slot.ID)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)

	available, err := f.slots.FindAvailable(context.Background(), f.doctor.ID, f.testDate)
	require.NoError(t, err)
	for _, s := range available {
		assert.NotEqual(t, slot.ID, s.ID)
	}
}

func TestTransactor_RollbackRestoresSlot(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	slot := f.slot(t, "13:00", "13:30")
	tx := NewTransactor(f.base)

	boom := errors.New("boom")
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		ok, err := f.slots.Claim(ctx, slot.ID)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := f.slots.GetByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAvailable)
}

func TestAppointmentRepository_LifecycleAndFilters(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()
	slot := f.slot(t, "15:00", "15:30")

	notes := "first visit"
	appt := &model.Appointment{
		DoctorID:       f.doctor.ID,
		PatientID:      f.patient.ID,
		AvailabilityID: slot.ID,
		Notes:          &notes,
	}
	require.NoError(t, f.appts.Create(ctx, appt))

	got, err := f.appts.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Status)
	assert.Equal(t, f.testDate, got.Date)
	assert.Equal(t, "15:00", got.StartTime)
	require.NotNil(t, got.Doctor)
	assert.Equal(t, "Gregory House", got.Doctor.Name)
	require.NotNil(t, got.Patient)
	assert.Equal(t, f.patient.Email, got.Patient.Email)

	// a second scheduled appointment on the same slot violates the partial index
	dup := &model.Appointment{DoctorID: f.doctor.ID, PatientID: f.patient.ID, AvailabilityID: slot.ID}
	err = f.appts.Create(ctx, dup)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	date := f.testDate
	list, err := f.appts.List(ctx, model.AppointmentFilter{
		DoctorID: &f.doctor.ID,
		Date:     &date,
		Statuses: []model.AppointmentStatus{model.AppointmentStatusScheduled},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, appt.ID, list[0].ID)

	revised := "bring previous scans"
	require.NoError(t, f.appts.UpdateNotes(ctx, appt.ID, &revised))
	got, err = f.appts.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, revised, *got.Notes)
	assert.True(t, errors.Is(f.appts.UpdateNotes(ctx, uuid.New(), nil), repository.ErrNotFound))

	ok, err := f.appts.UpdateStatus(ctx, appt.ID, model.AppointmentStatusScheduled, model.AppointmentStatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.appts.UpdateStatus(ctx, appt.ID, model.AppointmentStatusScheduled, model.AppointmentStatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err = f.appts.List(ctx, model.AppointmentFilter{
		PatientID: &f.patient.ID,
		Statuses:  []model.AppointmentStatus{model.AppointmentStatusScheduled},
	})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOutboxRepository_PendingAndProcessed(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()
	tx := NewTransactor(f.base)

	payload, _ := json.Marshal(map[string]string{"appointmentId": uuid.NewString()})
	event := &model.OutboxEvent{EventType: "appointment.created", Payload: payload}
	require.NoError(t, f.outbox.Create(ctx, event))

	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		events, err := f.outbox.GetPendingEventsWithLock(ctx, 1000)
		if err != nil {
			return err
		}
		var found bool
		for _, e := range events {
			if e.ID == event.ID {
				found = true
				assert.JSONEq(t, string(payload), string(e.Payload))
			}
		}
		assert.True(t, found)
		return f.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil)
	})
	require.NoError(t, err)

	deleted, err := f.outbox.DeleteProcessedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))
}

func TestUserRepository_ListAndUpdate(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	other := &model.User{FirstName: "Other", LastName: "Person", Email: uuid.NewString() + "@example.com", PasswordHash: "x", Role: model.RoleDoctor}
	require.NoError(t, f.users.Create(ctx, other))

	doctors, err := f.users.List(ctx, model.RoleDoctor)
	require.NoError(t, err)
	for _, u := range doctors {
		assert.Equal(t, model.RoleDoctor, u.Role)
	}

	byEmail, err := f.users.GetByEmail(ctx, f.patient.Email)
	require.NoError(t, err)
	assert.Equal(t, f.patient.ID, byEmail.ID)

	f.patient.FirstName = "Patricia"
	require.NoError(t, f.users.Update(ctx, f.patient))
	got, err := f.users.GetByID(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "Patricia", got.FirstName)

	f.patient.Email = other.Email
	err = f.users.Update(ctx, f.patient)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	err = f.users.Update(ctx, &model.User{Base: model.Base{ID: uuid.New()}, Email: uuid.NewString() + "@example.com", Role: model.RolePatient})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestDoctorRepository_GetByUserID(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	linked := &model.Doctor{UserID: &f.patient.ID, Name: "Linked Doctor", Specialty: "Cardiology"}
	require.NoError(t, f.doctors.Create(ctx, linked))

	got, err := f.doctors.GetByUserID(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, linked.ID, got.ID)

	_, err = f.doctors.GetByUserID(ctx, uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
