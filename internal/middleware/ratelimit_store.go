package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/charlesng35/casedesk/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore keeps counters in process. Expired windows are swept on
// write, at most once per sweep interval.
type memoryRateStore struct {
	mu        sync.Mutex
	data      map[string]*memoryCounter
	clock     func() time.Time
	nextSweep time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

const memorySweepInterval = time.Minute

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore(clock func() time.Time) RateStore {
	if clock == nil {
		clock = time.Now
	}
	return &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: clock,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.nextSweep) {
		for k, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, k)
			}
		}
		s.nextSweep = now.Add(memorySweepInterval)
	}

	counter, ok := s.data[key]
	if !ok || !now.Before(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// storeRateStore delegates counting to the shared cache (Redis or the
// database cache table).
type storeRateStore struct {
	store cache.Store
}

// NewCacheRateStore wraps a shared cache store. A nil store yields nil.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
