package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// MemorySlotCache keeps entries in process. Suitable for a single API node.
type MemorySlotCache struct {
	store *gocache.Cache
	opts  Options

	mu          sync.Mutex
	generations map[string]int64
}

func NewMemorySlotCache(opts Options) *MemorySlotCache {
	opts = opts.withDefaults()
	return &MemorySlotCache{
		store:       gocache.New(opts.TTL, 2*opts.TTL),
		opts:        opts,
		generations: make(map[string]int64),
	}
}

func (c *MemorySlotCache) Get(_ context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, int64, bool, error) {
	key := Key(c.opts.KeyPrefix, doctorID, date)

	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[key]
	v, found := c.store.Get(key)
	if !found {
		return nil, gen, false, nil
	}
	slots, ok := v.([]*model.Availability)
	if !ok {
		return nil, gen, false, nil
	}
	return cloneSlots(slots), gen, true, nil
}

func (c *MemorySlotCache) Set(_ context.Context, doctorID uuid.UUID, date string, generation int64, slots []*model.Availability) error {
	key := Key(c.opts.KeyPrefix, doctorID, date)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[key] != generation {
		return nil
	}
	c.store.Set(key, cloneSlots(slots), gocache.DefaultExpiration)
	return nil
}

func (c *MemorySlotCache) Invalidate(_ context.Context, doctorID uuid.UUID, date string) error {
	key := Key(c.opts.KeyPrefix, doctorID, date)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[key]++
	c.store.Delete(key)
	return nil
}

// cloneSlots copies entries so callers cannot mutate what is cached.
func cloneSlots(slots []*model.Availability) []*model.Availability {
	out := make([]*model.Availability, len(slots))
	for i, s := range slots {
		cp := *s
		out[i] = &cp
	}
	return out
}
