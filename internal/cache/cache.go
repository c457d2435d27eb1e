// Package cache holds the read-through cache of available slots keyed by
// doctor and date.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

const DefaultKeyPrefix = "doctor-availability"

// SlotCache stores the available slots of one doctor on one date.
//
// Every key carries a generation that Invalidate bumps. Get reports the
// generation it saw and Set only stores when it is still current, so a
// read-through that raced an invalidation cannot repopulate stale slots.
type SlotCache interface {
	// Get returns found=false on a miss. generation is valid either way.
	Get(ctx context.Context, doctorID uuid.UUID, date string) (slots []*model.Availability, generation int64, found bool, err error)
	// Set stores slots if the key is still at generation. A stale write is
	// dropped without error.
	Set(ctx context.Context, doctorID uuid.UUID, date string, generation int64, slots []*model.Availability) error
	Invalidate(ctx context.Context, doctorID uuid.UUID, date string) error
}

type Options struct {
	KeyPrefix string
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	return o
}

// generationKey holds the invalidation counter of a slot key.
func generationKey(key string) string {
	return key + ":gen"
}

// Key renders the cache key, e.g. doctor-availability:<doctorID>:2025-01-01.
func Key(prefix string, doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, doctorID, date)
}
