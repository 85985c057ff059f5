package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlanner returns one leg of 1 km and 2 minutes per segment
type fakePlanner struct {
	mu       sync.Mutex
	calls    [][]maps.LatLng
	optimize []bool
	order    []int
	err      error
}

func (p *fakePlanner) ComputeRoute(ctx context.Context, points []maps.LatLng, optimize bool) (*maps.RouteSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, points)
	p.optimize = append(p.optimize, optimize)
	if p.err != nil {
		return nil, p.err
	}
	summary := &maps.RouteSummary{EncodedPolyline: "abc", OptimizedIntermediateWaypointIndex: p.order}
	for i := 1; i < len(points); i++ {
		distance, duration := 1000.0, "120s"
		summary.Legs = append(summary.Legs, maps.Leg{DistanceMeters: &distance, Duration: &duration})
	}
	return summary, nil
}

func (p *fakePlanner) Configured() bool { return true }

func (p *fakePlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeLocator map[string]maps.GeocodeResult

func (l fakeLocator) Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error) {
	if result, ok := l[address]; ok {
		return &result, nil
	}
	return nil, errors.New("ZERO_RESULTS")
}

var (
	coordsP1 = models.LatLng{Lat: 4.61, Lng: -74.07}
	coordsP2 = models.LatLng{Lat: 4.62, Lng: -74.065}
	awayBus  = models.LatLng{Lat: 4.605, Lng: -74.07}
	school   = models.LatLng{Lat: 4.65, Lng: -74.05}
)

func testRoute() *models.ResolvedRoute {
	p1, p2 := coordsP1, coordsP2
	return &models.ResolvedRoute{
		RouteKey: "COL1:ruta 3",
		RouteID:  "ruta-3",
		Stops: []models.RouteStop{
			{ID: "p1", Key: "p1", Title: "Calle 10 # 5-20", Address: "Calle 10 # 5-20", Coords: &p1, Order: 0},
			{ID: "p2", Key: "p2", Title: "Calle 20 # 8-10", Address: "Calle 20 # 8-10", Coords: &p2, Order: 1},
			{ID: "p3", Key: "p3", Title: "Calle 30 # 12-40", Address: "Calle 30 # 12-40", Order: 2},
		},
	}
}

func newTestEtaEngine(t *testing.T, planner RoutePlanner) *EtaEngine {
	t.Helper()
	locator := fakeLocator{"Calle 30 # 12-40": {Lat: 4.63, Lng: -74.06}}
	cfg := config.TrackingConfig{StopReachedMeters: 180, FallbackSpeedKmh: 24, RefreshInterval: 9 * time.Second, ListRefreshInterval: 20 * time.Second}
	return NewEtaEngine(planner, locator, fixedClock(t), cfg, time.Second, nil, quietLogger())
}

var etaMonitor = &models.Profile{UID: "monitor-1", Role: "monitora"}

func TestEtaEngine_MonitorNextStop(t *testing.T) {
	planner := &fakePlanner{}
	engine := newTestEtaEngine(t, planner)

	result, err := engine.Compute(context.Background(), models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus})
	require.NoError(t, err)

	assert.Equal(t, models.SourceRoutes, result.Source)
	assert.Equal(t, "abc", result.EncodedPolyline)
	require.Len(t, planner.calls, 1)
	assert.Len(t, planner.calls[0], 4, "bus plus three stops, the last one geocoded")
	assert.False(t, planner.optimize[0])

	require.Len(t, result.Stops, 3)
	for i, wantMinutes := range []int{2, 4, 6} {
		require.NotNil(t, result.Stops[i].Minutes)
		assert.Equal(t, wantMinutes, *result.Stops[i].Minutes)
	}
	assert.Equal(t, 3000.0, *result.Stops[2].DistanceMeters)

	assert.Equal(t, models.TargetStop, result.Target.Kind)
	assert.Equal(t, models.TitleNextStop, result.Target.Title)
	assert.Equal(t, "p1", result.Target.StopKey)
	assert.Equal(t, 2, *result.Target.Minutes)
}

func TestEtaEngine_CompletedStopsStay(t *testing.T) {
	planner := &fakePlanner{}
	engine := newTestEtaEngine(t, planner)
	ctx := context.Background()

	result, err := engine.Compute(ctx, models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: coordsP1})
	require.NoError(t, err)
	assert.True(t, result.Stops[0].Completed)
	assert.Nil(t, result.Stops[0].Minutes)
	assert.Equal(t, "p2", result.Target.StopKey)

	// the bus moved back out of reach; p1 is still done
	result, err = engine.Compute(ctx, models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus})
	require.NoError(t, err)
	assert.True(t, result.Stops[0].Completed)
	assert.Equal(t, "p2", result.Target.StopKey)
	assert.Equal(t, []string{"p1"}, engine.CompletedStops("COL1:ruta 3"))
}

func TestEtaEngine_Cache(t *testing.T) {
	planner := &fakePlanner{}
	engine := newTestEtaEngine(t, planner)
	ctx := context.Background()
	req := models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus}

	first, err := engine.Compute(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Compute(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, planner.callCount())

	// movement beyond the rounding precision is a new request
	req.Bus = models.LatLng{Lat: 4.6052, Lng: -74.07}
	third, err := engine.Compute(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, planner.callCount())
}

func TestEtaEngine_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		planner RoutePlanner
	}{
		{"no planner", nil},
		{"planner error", &fakePlanner{err: &maps.APIError{API: "Routes", StatusCode: 403, Status: "PERMISSION_DENIED"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEtaEngine(t, tt.planner)
			result, err := engine.Compute(context.Background(), models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus})
			require.NoError(t, err)

			assert.Equal(t, models.SourceFallback, result.Source)
			assert.NotEmpty(t, result.EncodedPolyline)
			require.NotNil(t, result.Target.DistanceMeters)
			// about 556 m at 24 km/h
			assert.InDelta(t, 556, *result.Target.DistanceMeters, 5)
			assert.Equal(t, 1, *result.Target.Minutes)
		})
	}
}

func TestEtaEngine_OptimizedOrder(t *testing.T) {
	planner := &fakePlanner{order: []int{2, 0, 1}}
	engine := newTestEtaEngine(t, planner)
	dest := school

	result, err := engine.Compute(context.Background(), models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus, Destination: &dest})
	require.NoError(t, err)

	assert.True(t, planner.optimize[0])
	assert.Len(t, planner.calls[0], 5)
	assert.Equal(t, "p3", result.Target.StopKey)
	assert.Equal(t, 2, *result.Stops[2].Minutes)
	assert.Equal(t, 4, *result.Stops[0].Minutes)
}

func TestEtaEngine_ExcludedStop(t *testing.T) {
	planner := &fakePlanner{}
	engine := newTestEtaEngine(t, planner)

	statuses := models.StatusMap{"p1": {Status: models.StopStatusMissedBus, Inasistencia: true}}
	result, err := engine.Compute(context.Background(), models.EtaRequest{Profile: etaMonitor, Route: testRoute(), Bus: awayBus, Statuses: statuses})
	require.NoError(t, err)

	assert.True(t, result.Stops[0].Excluded)
	assert.Equal(t, models.StopStatusMissedBus, result.Stops[0].Status)
	assert.Nil(t, result.Stops[0].Minutes)
	assert.Equal(t, "p2", result.Target.StopKey)
	assert.Len(t, planner.calls[0], 3)
}

func TestEtaEngine_StudentTarget(t *testing.T) {
	planner := &fakePlanner{}
	engine := newTestEtaEngine(t, planner)
	ctx := context.Background()
	student := &models.Profile{UID: "student-1", AccountType: "student", StopAddress: "calle 20 #8-10"}
	dest := school

	result, err := engine.Compute(ctx, models.EtaRequest{Profile: student, Route: testRoute(), Bus: awayBus, Destination: &dest})
	require.NoError(t, err)
	assert.Equal(t, models.TargetOwnStop, result.Target.Kind)
	assert.Equal(t, models.TitleOwnStop, result.Target.Title)
	assert.Equal(t, "p2", result.Target.StopKey)
	assert.False(t, result.PickedUp)

	result, err = engine.Compute(ctx, models.EtaRequest{Profile: student, Route: testRoute(), Bus: coordsP2, Destination: &dest})
	require.NoError(t, err)
	assert.True(t, result.PickedUp)
	assert.Equal(t, models.TargetSchool, result.Target.Kind)
	assert.Equal(t, models.TitleSchool, result.Target.Title)
}

func TestEtaEngine_Validation(t *testing.T) {
	engine := newTestEtaEngine(t, nil)

	_, err := engine.Compute(context.Background(), models.EtaRequest{Bus: awayBus})
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, err = engine.Compute(context.Background(), models.EtaRequest{Route: testRoute(), Bus: models.LatLng{Lat: 123}})
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestEtaEngine_NoTargets(t *testing.T) {
	engine := newTestEtaEngine(t, nil)
	route := &models.ResolvedRoute{RouteKey: "COL1:ruta 9", Stops: []models.RouteStop{{Key: "x", Title: "Sin coordenadas"}}}

	result, err := engine.Compute(context.Background(), models.EtaRequest{Route: route, Bus: awayBus})
	require.NoError(t, err)
	assert.Equal(t, models.SourceNoTargets, result.Source)
	assert.Equal(t, models.TargetArrival, result.Target.Kind)
}
