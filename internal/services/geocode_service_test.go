package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGeocoder counts upstream calls and can hold them until released
type countingGeocoder struct {
	calls      atomic.Int32
	configured bool
	gate       chan struct{}
	err        error
}

func (g *countingGeocoder) Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return nil, g.err
	}
	return &maps.GeocodeResult{Lat: 4.62, Lng: -74.065, FormattedAddress: address}, nil
}

func (g *countingGeocoder) Configured() bool { return g.configured }

func newGeocodeService(client Geocoder) *GeocodeService {
	return NewGeocodeService(client, ", Bogotá, Colombia", "colombia", time.Second, nil, quietLogger())
}

func TestGeocodeService_NormalizeQuery(t *testing.T) {
	service := newGeocodeService(&countingGeocoder{configured: true})

	assert.Equal(t, "Calle 20 # 8-10, Bogotá, Colombia", service.NormalizeQuery("  Calle 20 # 8-10 "))
	assert.Equal(t, "Calle 20 # 8-10, Medellín, COLOMBIA", service.NormalizeQuery("Calle 20 # 8-10, Medellín, COLOMBIA"))
	assert.Equal(t, "", service.NormalizeQuery("   "))
}

func TestGeocodeService_Cache(t *testing.T) {
	client := &countingGeocoder{configured: true}
	service := newGeocodeService(client)
	ctx := context.Background()

	first, err := service.Geocode(ctx, "Calle 20 # 8-10")
	require.NoError(t, err)
	assert.Equal(t, "Calle 20 # 8-10, Bogotá, Colombia", first.FormattedAddress)

	first.Lat = 0
	second, err := service.Geocode(ctx, "Calle 20 # 8-10 ")
	require.NoError(t, err)
	assert.Equal(t, 4.62, second.Lat, "cached value is copied")
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestGeocodeService_CoalescesConcurrentLookups(t *testing.T) {
	client := &countingGeocoder{configured: true, gate: make(chan struct{})}
	service := newGeocodeService(client)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Geocode(context.Background(), "Calle 30 # 12-40")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(client.gate)
	wg.Wait()

	assert.LessOrEqual(t, client.calls.Load(), int32(2))
}

func TestGeocodeService_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newGeocodeService(&countingGeocoder{configured: true}).Geocode(ctx, " ")
	assert.ErrorIs(t, err, ErrAddressRequired)

	_, err = newGeocodeService(&countingGeocoder{}).Geocode(ctx, "Calle 20")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = newGeocodeService(nil).Geocode(ctx, "Calle 20")
	assert.ErrorIs(t, err, ErrNotConfigured)

	upstream := &maps.APIError{API: "Geocoding", StatusCode: 200, Status: "ZERO_RESULTS"}
	client := &countingGeocoder{configured: true, err: upstream}
	service := newGeocodeService(client)
	_, err = service.Geocode(ctx, "Nowhere")
	var apiErr *maps.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ZERO_RESULTS", apiErr.Status)

	// failures are not cached
	_, _ = service.Geocode(ctx, "Nowhere")
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestGeocodeService_CacheExpiresAndStaysBounded(t *testing.T) {
	client := &countingGeocoder{configured: true}
	service := newGeocodeService(client).WithCacheLimits(time.Hour, 2)
	now := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }
	ctx := context.Background()

	for _, address := range []string{"Calle 10", "Calle 20", "Calle 30"} {
		_, err := service.Geocode(ctx, address)
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}
	assert.Equal(t, 2, service.CacheLen(), "oldest lookup is evicted at capacity")

	_, err := service.Geocode(ctx, "Calle 10")
	require.NoError(t, err)
	assert.Equal(t, int32(4), client.calls.Load(), "evicted lookup goes upstream again")

	_, err = service.Geocode(ctx, "Calle 30")
	require.NoError(t, err)
	assert.Equal(t, int32(4), client.calls.Load())

	now = now.Add(2 * time.Hour)
	_, err = service.Geocode(ctx, "Calle 30")
	require.NoError(t, err)
	assert.Equal(t, int32(5), client.calls.Load(), "expired lookup is refreshed")

	assert.Equal(t, 1, service.PruneCache())
	assert.Equal(t, 1, service.CacheLen())
}
