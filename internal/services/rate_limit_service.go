package services

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitService throttles monitor location uploads to one per interval
type RateLimitService struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(interval time.Duration) *RateLimitService {
	return &RateLimitService{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// RateLimitError represents a throttled upload
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Allow records an upload for key, or returns a RateLimitError when the
// previous accepted upload is more recent than the interval
func (s *RateLimitService) Allow(key string) error {
	if s.interval <= 0 {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[key]; ok && now.Sub(last) < s.interval {
		retryAfter := last.Add(s.interval)
		return &RateLimitError{
			Message:    fmt.Sprintf("Too many location updates. Please try again after %s", retryAfter.Format("15:04:05")),
			RetryAfter: retryAfter,
		}
	}
	s.last[key] = now
	return nil
}

// CleanupExpired forgets keys idle for longer than the interval
func (s *RateLimitService) CleanupExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, last := range s.last {
		if now.Sub(last) >= s.interval {
			delete(s.last, key)
			removed++
		}
	}
	return removed
}
