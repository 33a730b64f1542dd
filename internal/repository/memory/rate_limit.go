package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/toolme/marketplace-api/internal/core/port"
)

var errNonPositiveWindow = errors.New("window must be positive")

// RateLimitStore keeps ordered attempt timestamps per key. It backs the rate
// limiter when Redis is disabled; limits are then per process.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimitStore constructs an empty store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *RateLimitStore) RecordAttempt(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.attempts[key]
	i := sort.Search(len(list), func(i int) bool { return list[i].After(at) })
	list = append(list, time.Time{})
	copy(list[i+1:], list[i:])
	list[i] = at
	s.attempts[key] = list
	return nil
}

func (s *RateLimitStore) CountAttempts(_ context.Context, key string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.bounds(key, window, reference)
	return hi - lo, nil
}

func (s *RateLimitStore) TrimWindow(_ context.Context, key string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lo, _ := s.bounds(key, window, reference)
	list := s.attempts[key]
	if lo >= len(list) {
		delete(s.attempts, key)
		return nil
	}
	s.attempts[key] = append([]time.Time(nil), list[lo:]...)
	return nil
}

func (s *RateLimitStore) OldestAttempt(_ context.Context, key string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.bounds(key, window, reference)
	if lo >= hi {
		return time.Time{}, false, nil
	}
	return s.attempts[key][lo], true, nil
}

// bounds returns the index range of attempts in [reference-window, reference].
func (s *RateLimitStore) bounds(key string, window time.Duration, reference time.Time) (int, int) {
	list := s.attempts[key]
	start := reference.Add(-window)
	lo := sort.Search(len(list), func(i int) bool { return !list[i].Before(start) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].After(reference) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
