package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Geocoder resolves an address to coordinates
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error)
	Configured() bool
}

const (
	defaultGeocodeCacheTTL  = 24 * time.Hour
	defaultGeocodeCacheSize = 2048
)

type geocodeEntry struct {
	result   *maps.GeocodeResult
	storedAt time.Time
}

// GeocodeService wraps the geocoding client with query normalization, a
// bounded memory cache of successful lookups and coalescing of concurrent
// requests.
type GeocodeService struct {
	client  Geocoder
	suffix  string
	keyword string
	timeout time.Duration

	mu         sync.RWMutex
	cache      map[string]geocodeEntry
	cacheTTL   time.Duration
	maxEntries int
	now        func() time.Time
	group      singleflight.Group

	metrics *metrics.Collector
	logger  *logrus.Logger
}

// NewGeocodeService creates a new GeocodeService
func NewGeocodeService(client Geocoder, regionSuffix, regionKeyword string, timeout time.Duration, m *metrics.Collector, logger *logrus.Logger) *GeocodeService {
	return &GeocodeService{
		client:  client,
		suffix:  regionSuffix,
		keyword: strings.ToLower(regionKeyword),
		timeout: timeout,
		cache:      make(map[string]geocodeEntry),
		cacheTTL:   defaultGeocodeCacheTTL,
		maxEntries: defaultGeocodeCacheSize,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

// WithCacheLimits overrides how long results are kept and how many are held.
// Non-positive values keep the defaults.
func (s *GeocodeService) WithCacheLimits(ttl time.Duration, maxEntries int) *GeocodeService {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	if maxEntries > 0 {
		s.maxEntries = maxEntries
	}
	return s
}

// CacheLen is the number of cached lookups, expired ones included
func (s *GeocodeService) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// PruneCache drops expired lookups and returns how many were removed
func (s *GeocodeService) PruneCache() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.now())
}

func (s *GeocodeService) pruneLocked(now time.Time) int {
	removed := 0
	for query, entry := range s.cache {
		if now.Sub(entry.storedAt) >= s.cacheTTL {
			delete(s.cache, query)
			removed++
		}
	}
	return removed
}

func (s *GeocodeService) store(query string, result *maps.GeocodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.cache[query]; !exists && len(s.cache) >= s.maxEntries {
		s.pruneLocked(now)
		for len(s.cache) >= s.maxEntries {
			oldest, oldestAt := "", now
			for q, entry := range s.cache {
				if oldest == "" || entry.storedAt.Before(oldestAt) {
					oldest, oldestAt = q, entry.storedAt
				}
			}
			delete(s.cache, oldest)
		}
	}
	s.cache[query] = geocodeEntry{result: result, storedAt: now}
}

// Configured reports whether the upstream client has a key
func (s *GeocodeService) Configured() bool {
	return s.client != nil && s.client.Configured()
}

// NormalizeQuery appends the region suffix unless the address names the country
func (s *GeocodeService) NormalizeQuery(address string) string {
	query := strings.TrimSpace(address)
	if query == "" || s.suffix == "" {
		return query
	}
	if s.keyword != "" && strings.Contains(strings.ToLower(query), s.keyword) {
		return query
	}
	return query + s.suffix
}

// Geocode resolves an address, serving repeated queries from the cache
func (s *GeocodeService) Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error) {
	query := s.NormalizeQuery(address)
	if query == "" {
		return nil, ErrAddressRequired
	}
	if !s.Configured() {
		return nil, fmt.Errorf("geocoding key missing: %w", ErrNotConfigured)
	}

	s.mu.RLock()
	cached, ok := s.cache[query]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.storedAt) < s.cacheTTL {
		s.metrics.GeocodeCacheResult("hit")
		copied := *cached.result
		return &copied, nil
	}

	value, err, shared := s.group.Do(query, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeoutOrDefault())
		defer cancel()

		started := time.Now()
		result, err := s.client.Geocode(callCtx, query)
		s.metrics.ObserveMaps("geocoding", started, err)
		if err != nil {
			return nil, err
		}

		s.store(query, result)
		return result, nil
	})
	if shared {
		s.metrics.GeocodeCacheResult("shared")
	} else {
		s.metrics.GeocodeCacheResult("miss")
	}
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Debug("geocoding failed")
		return nil, err
	}

	copied := *value.(*maps.GeocodeResult)
	return &copied, nil
}

func (s *GeocodeService) timeoutOrDefault() time.Duration {
	if s.timeout <= 0 {
		return 9 * time.Second
	}
	return s.timeout
}
