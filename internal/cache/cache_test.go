package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
)

func sampleSlots(doctorID uuid.UUID) []*model.Availability {
	return []*model.Availability{
		{Base: model.Base{ID: uuid.New()}, DoctorID: doctorID, Date: "2025-01-01", StartTime: "09:00", EndTime: "09:30", IsAvailable: true},
		{Base: model.Base{ID: uuid.New()}, DoctorID: doctorID, Date: "2025-01-01", StartTime: "10:00", EndTime: "10:30", IsAvailable: true},
	}
}

func TestKey(t *testing.T) {
	id := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	assert.Equal(t, "doctor-availability:123e4567-e89b-12d3-a456-426614174000:2025-01-01", Key(DefaultKeyPrefix, id, "2025-01-01"))
}

func exerciseSlotCache(t *testing.T, c SlotCache) {
	ctx := context.Background()
	doctorID := uuid.New()
	slots := sampleSlots(doctorID)

	_, gen, found, err := c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, doctorID, "2025-01-01", gen, slots))

	got, _, found, err := c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
	assert.Equal(t, slots[0].ID, got[0].ID)
	assert.Equal(t, "10:00", got[1].StartTime)

	// other dates are separate keys
	_, _, found, err = c.Get(ctx, doctorID, "2025-01-02")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Invalidate(ctx, doctorID, "2025-01-01"))
	_, _, found, err = c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, found)
}

// exerciseStaleWrite fills the cache with a generation read before an
// invalidation. The write must be dropped.
func exerciseStaleWrite(t *testing.T, c SlotCache) {
	ctx := context.Background()
	doctorID := uuid.New()

	_, before, found, err := c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Invalidate(ctx, doctorID, "2025-01-01"))
	require.NoError(t, c.Set(ctx, doctorID, "2025-01-01", before, sampleSlots(doctorID)))

	_, after, found, err := c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotEqual(t, before, after)

	require.NoError(t, c.Set(ctx, doctorID, "2025-01-01", after, sampleSlots(doctorID)))
	_, _, found, err = c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemorySlotCache(t *testing.T) {
	exerciseSlotCache(t, NewMemorySlotCache(Options{TTL: time.Minute}))
}

func TestMemorySlotCache_DropsStaleWrite(t *testing.T) {
	exerciseStaleWrite(t, NewMemorySlotCache(Options{TTL: time.Minute}))
}

func TestMemorySlotCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySlotCache(Options{})
	doctorID := uuid.New()
	require.NoError(t, c.Set(ctx, doctorID, "2025-01-01", 0, sampleSlots(doctorID)))

	got, _, _, _ := c.Get(ctx, doctorID, "2025-01-01")
	got[0].IsAvailable = false

	again, _, _, _ := c.Get(ctx, doctorID, "2025-01-01")
	assert.True(t, again[0].IsAvailable)
}

func TestMemorySlotCache_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySlotCache(Options{TTL: 20 * time.Millisecond})
	doctorID := uuid.New()
	require.NoError(t, c.Set(ctx, doctorID, "2025-01-01", 0, sampleSlots(doctorID)))

	time.Sleep(50 * time.Millisecond)
	_, _, found, err := c.Get(ctx, doctorID, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSlotCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis integration test")
	}

	client, err := NewRedisClient(context.Background(), config.RedisConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	opts := Options{KeyPrefix: "test-" + uuid.NewString(), TTL: time.Minute}
	exerciseSlotCache(t, NewRedisSlotCache(client, opts))
	exerciseStaleWrite(t, NewRedisSlotCache(client, opts))
}
