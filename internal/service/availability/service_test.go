package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/cache"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/doctor"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

const testDate = "2025-01-01"

type brokenCache struct{}

func (brokenCache) Get(context.Context, uuid.UUID, string) ([]*model.Availability, int64, bool, error) {
	return nil, 0, false, errors.New("redis unavailable")
}

func (brokenCache) Set(context.Context, uuid.UUID, string, int64, []*model.Availability) error {
	return errors.New("redis unavailable")
}

func (brokenCache) Invalidate(context.Context, uuid.UUID, string) error {
	return errors.New("redis unavailable")
}

// racingRepository books a slot and invalidates the cache right after the
// store read, the way a concurrent Book lands between FindAvailable and Set.
type racingRepository struct {
	repository.AvailabilityRepository
	cache cache.SlotCache
	claim uuid.UUID
	raced bool
}

func (r *racingRepository) FindAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, error) {
	slots, err := r.AvailabilityRepository.FindAvailable(ctx, doctorID, date)
	if err != nil || r.raced {
		return slots, err
	}
	r.raced = true
	if _, err := r.Claim(ctx, r.claim); err != nil {
		return nil, err
	}
	return slots, r.cache.Invalidate(ctx, doctorID, date)
}

type fixture struct {
	store  *memory.Store
	cache  cache.SlotCache
	svc    *Service
	doctor *model.Doctor
	admin  model.Identity
}

func newFixture(t *testing.T, slotCache cache.SlotCache) *fixture {
	t.Helper()
	store := memory.NewStore()
	doctors, err := doctor.NewService(store.Doctors(), doctor.Config{}, logger.Nop())
	require.NoError(t, err)

	f := &fixture{
		store: store,
		cache: slotCache,
		svc: NewService(
			store,
			store.Availability(),
			doctors,
			event.NewEventService(store.Outbox(), logger.Nop()),
			slotCache,
			logger.Nop(),
			nil,
		),
		admin: model.Identity{ID: uuid.New(), Role: model.RoleAdmin},
	}

	f.doctor, err = doctors.CreateDoctor(context.Background(), model.CreateDoctorRequest{Name: "Gregory House", Specialty: "Diagnostics"})
	require.NoError(t, err)
	return f
}

func (f *fixture) request(start, end string) model.CreateAvailabilityRequest {
	return model.CreateAvailabilityRequest{DoctorID: f.doctor.ID, Date: testDate, StartTime: start, EndTime: end}
}

func TestCreateSlot(t *testing.T) {
	f := newFixture(t, cache.NewMemorySlotCache(cache.Options{}))
	ctx := context.Background()

	slot, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.True(t, slot.IsAvailable)
	assert.Equal(t, "09:00", slot.StartTime)

	events := f.store.OutboxEvents(model.EventAvailabilityCreated)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), slot.ID.String())
}

func TestCreateSlot_RejectsOverlap(t *testing.T) {
	f := newFixture(t, cache.NewMemorySlotCache(cache.Options{}))
	ctx := context.Background()

	_, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "10:00"))
	require.NoError(t, err)

	for _, window := range [][2]string{
		{"09:00", "10:00"},
		{"09:30", "10:30"},
		{"08:30", "09:01"},
		{"08:00", "11:00"},
	} {
		_, err := f.svc.CreateSlot(ctx, f.admin, f.request(window[0], window[1]))
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "%v", window)
	}

	_, err = f.svc.CreateSlot(ctx, f.admin, f.request("10:00", "10:30"))
	assert.NoError(t, err)
	_, err = f.svc.CreateSlot(ctx, f.admin, f.request("08:30", "09:00"))
	assert.NoError(t, err)

	assert.Len(t, f.store.OutboxEvents(model.EventAvailabilityCreated), 3)
}

func TestCreateSlot_Validation(t *testing.T) {
	f := newFixture(t, cache.NewMemorySlotCache(cache.Options{}))
	ctx := context.Background()

	_, err := f.svc.CreateSlot(ctx, f.admin, f.request("10:00", "09:00"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	req := f.request("09:00", "09:30")
	req.DoctorID = uuid.New()
	_, err = f.svc.CreateSlot(ctx, f.admin, req)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	slots, err := f.store.Availability().ListByDoctor(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGetAvailableSlots_ReadThrough(t *testing.T) {
	slotCache := cache.NewMemorySlotCache(cache.Options{})
	f := newFixture(t, slotCache)
	ctx := context.Background()

	slot, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "09:30"))
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	cached, _, found, err := slotCache.Get(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, slot.ID, cached[0].ID)

	// a hit does not touch the store
	f.store.FailNext("availability.find_available", errors.New("db down"))
	slots, err = f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	// creating a slot drops the cached entry
	_, err = f.svc.CreateSlot(ctx, f.admin, f.request("10:00", "10:30"))
	require.NoError(t, err)
	_, _, found, err = slotCache.Get(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetAvailableSlots_HidesClaimedSlots(t *testing.T) {
	f := newFixture(t, cache.NewMemorySlotCache(cache.Options{}))
	ctx := context.Background()

	first, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "09:30"))
	require.NoError(t, err)
	second, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:30", "10:00"))
	require.NoError(t, err)

	ok, err := f.store.Availability().Claim(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, second.ID, slots[0].ID)

	all, err := f.svc.ListDoctorSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetAvailableSlots_ClaimDuringReadThrough(t *testing.T) {
	slotCache := cache.NewMemorySlotCache(cache.Options{})
	f := newFixture(t, slotCache)
	ctx := context.Background()

	first, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "09:30"))
	require.NoError(t, err)
	second, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:30", "10:00"))
	require.NoError(t, err)

	f.svc.repo = &racingRepository{AvailabilityRepository: f.store.Availability(), cache: slotCache, claim: first.ID}

	// the first read saw both slots before the claim committed
	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	_, _, found, err := slotCache.Get(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.False(t, found, "stale read must not be cached")

	slots, err = f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, second.ID, slots[0].ID)
}

func TestService_WithoutCacheOrLogger(t *testing.T) {
	store := memory.NewStore()
	doctors, err := doctor.NewService(store.Doctors(), doctor.Config{}, logger.Nop())
	require.NoError(t, err)
	svc := NewService(store, store.Availability(), doctors, event.NewEventService(store.Outbox(), logger.Nop()), nil, nil, nil)

	ctx := context.Background()
	doc, err := doctors.CreateDoctor(ctx, model.CreateDoctorRequest{Name: "James Wilson", Specialty: "Oncology"})
	require.NoError(t, err)

	_, err = svc.CreateSlot(ctx, model.Identity{ID: uuid.New(), Role: model.RoleAdmin},
		model.CreateAvailabilityRequest{DoctorID: doc.ID, Date: testDate, StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	slots, err := svc.GetAvailableSlots(ctx, doc.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestGetAvailableSlots_CacheFailureFallsBack(t *testing.T) {
	f := newFixture(t, brokenCache{})
	ctx := context.Background()

	_, err := f.svc.CreateSlot(ctx, f.admin, f.request("09:00", "09:30"))
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestGetAvailableSlots_UnknownDoctor(t *testing.T) {
	f := newFixture(t, cache.NewMemorySlotCache(cache.Options{}))
	_, err := f.svc.GetAvailableSlots(context.Background(), uuid.New(), testDate)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
