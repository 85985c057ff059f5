package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/sirupsen/logrus"
)

// RoutePlanner computes a driving route through ordered points
type RoutePlanner interface {
	ComputeRoute(ctx context.Context, points []maps.LatLng, optimize bool) (*maps.RouteSummary, error)
	Configured() bool
}

// AddressLocator resolves stop addresses that carry no coordinates
type AddressLocator interface {
	Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error)
}

// EtaEngine turns a bus position and a resolved route into per-stop ETAs and
// the caller's target. Completed stops are remembered per route and service
// day and never reverted within the day.
type EtaEngine struct {
	planner RoutePlanner
	locator AddressLocator
	clock   *utils.ServiceClock
	cfg     config.TrackingConfig
	timeout time.Duration

	mu        sync.Mutex
	completed map[string]map[string]struct{}
	recent    map[string]cachedEta

	metrics *metrics.Collector
	logger  *logrus.Logger
}

type cachedEta struct {
	signature string
	at        time.Time
	result    models.EtaResult
}

type pendingStop struct {
	row    int
	coords models.LatLng
}

// NewEtaEngine creates a new EtaEngine
func NewEtaEngine(planner RoutePlanner, locator AddressLocator, clock *utils.ServiceClock, cfg config.TrackingConfig, timeout time.Duration, m *metrics.Collector, logger *logrus.Logger) *EtaEngine {
	if cfg.StopReachedMeters <= 0 {
		cfg.StopReachedMeters = 180
	}
	if cfg.FallbackSpeedKmh <= 0 {
		cfg.FallbackSpeedKmh = 24
	}
	if timeout <= 0 {
		timeout = 9 * time.Second
	}
	return &EtaEngine{
		planner:   planner,
		locator:   locator,
		clock:     clock,
		cfg:       cfg,
		timeout:   timeout,
		completed: make(map[string]map[string]struct{}),
		recent:    make(map[string]cachedEta),
		metrics:   m,
		logger:    logger,
	}
}

// Compute runs one ETA evaluation. A request identical to a recent one
// (same route, position to 4 decimals, stops and destination) within the
// refresh window returns the previous result flagged as cached.
func (e *EtaEngine) Compute(ctx context.Context, req models.EtaRequest) (*models.EtaResult, error) {
	if req.Route == nil {
		return nil, ErrRouteNotFound
	}
	if !utils.ValidCoordinate(req.Bus.Lat, req.Bus.Lng) {
		return nil, ErrInvalidCoordinates
	}

	now := e.clock.Now()
	cacheKey := e.cacheKey(req)
	signature := EtaSignature(req)
	if cached := e.recentResult(cacheKey, signature, now, e.window(req.ListView)); cached != nil {
		e.metrics.EtaComputed("cached")
		return cached, nil
	}

	stops := e.locateStops(ctx, req.Route.Stops)
	completed := e.markCompleted(e.clock.DateKey(now), req.Route.RouteKey, req.Bus, stops)

	rows := make([]models.StopEta, len(stops))
	pending := make([]pendingStop, 0, len(stops))
	for i, stop := range stops {
		status := LookupStatus(req.Statuses, stop.Key, stop.Address, stop.Title)
		_, done := completed[stop.Key]
		rows[i] = models.StopEta{
			Key:         stop.Key,
			Title:       stop.Title,
			Address:     stop.Address,
			Order:       stop.Order,
			SourceIndex: i,
			Excluded:    status.IsAbsent(),
			Completed:   done,
		}
		if status != nil {
			rows[i].Status = status.Status
			if status.IsAbsent() && rows[i].Status == "" {
				rows[i].Status = models.StopStatusMissedBus
			}
		}
		if stop.Coords != nil && !done && !rows[i].Excluded {
			pending = append(pending, pendingStop{row: i, coords: *stop.Coords})
		}
	}

	result := &models.EtaResult{
		RouteKey: req.Route.RouteKey,
		RouteID:  req.Route.RouteID,
		Stops:    rows,
		Source:   models.SourceNoTargets,
	}

	var legs []maps.Leg
	if len(pending) > 0 || req.Destination != nil {
		legs, result.EncodedPolyline, result.Source, pending = e.plan(ctx, req.Bus, pending, req.Destination)
		for i, p := range pending {
			fillMetrics(&rows[p.row].DistanceMeters, &rows[p.row].DurationSeconds, &rows[p.row].Minutes, legs, 0, i)
		}
	}

	if req.Profile != nil && !req.Profile.IsMonitor() {
		result.Target, result.PickedUp = e.studentTarget(ctx, req, stops, rows, pending, legs)
	} else {
		result.Target = monitorTarget(req, rows, pending, legs)
	}

	e.metrics.EtaComputed(result.Source)
	e.remember(cacheKey, signature, now, *result)
	return result, nil
}

// CompletedStops returns the stop keys completed today on a route
func (e *EtaEngine) CompletedStops(routeKey string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.completed[e.clock.Today()+"|"+routeKey]
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// plan makes one directions call over [bus, pending..., destination] and
// falls back to great-circle legs when it fails. The optimized waypoint
// order is applied only when it covers every pending stop.
func (e *EtaEngine) plan(ctx context.Context, bus models.LatLng, pending []pendingStop, destination *models.LatLng) ([]maps.Leg, string, string, []pendingStop) {
	points := make([]maps.LatLng, 0, len(pending)+2)
	points = append(points, maps.LatLng{Lat: bus.Lat, Lng: bus.Lng})
	for _, p := range pending {
		points = append(points, maps.LatLng{Lat: p.coords.Lat, Lng: p.coords.Lng})
	}
	if destination != nil {
		points = append(points, maps.LatLng{Lat: destination.Lat, Lng: destination.Lng})
	}
	optimize := destination != nil && len(pending) > 1

	if e.planner != nil && e.planner.Configured() {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		started := time.Now()
		summary, err := e.planner.ComputeRoute(callCtx, points, optimize)
		cancel()
		e.metrics.ObserveMaps("routes", started, err)
		if err == nil {
			if optimize && len(summary.OptimizedIntermediateWaypointIndex) == len(pending) {
				pending = reorder(pending, summary.OptimizedIntermediateWaypointIndex)
			}
			return summary.Legs, summary.EncodedPolyline, models.SourceRoutes, pending
		}
		e.logger.WithError(err).Warn("routes API failed, using straight-line estimate")
	}

	return e.fallbackLegs(points), maps.EncodePolyline(points), models.SourceFallback, pending
}

func (e *EtaEngine) fallbackLegs(points []maps.LatLng) []maps.Leg {
	legs := make([]maps.Leg, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		distance := utils.DistanceMeters(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
		duration := fmt.Sprintf("%.0fs", utils.SecondsAtSpeed(distance, e.cfg.FallbackSpeedKmh))
		legs = append(legs, maps.Leg{DistanceMeters: &distance, Duration: &duration})
	}
	return legs
}

func reorder(pending []pendingStop, order []int) []pendingStop {
	result := make([]pendingStop, 0, len(pending))
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(pending) || seen[idx] {
			return pending
		}
		seen[idx] = true
		result = append(result, pending[idx])
	}
	return result
}

func monitorTarget(req models.EtaRequest, rows []models.StopEta, pending []pendingStop, legs []maps.Leg) models.EtaTarget {
	if len(pending) > 0 {
		row := rows[pending[0].row]
		target := models.EtaTarget{Title: models.TitleNextStop, Kind: models.TargetStop, StopKey: row.Key}
		fillMetrics(&target.DistanceMeters, &target.DurationSeconds, &target.Minutes, legs, 0, 0)
		return target
	}
	if req.Destination != nil {
		target := models.EtaTarget{Title: models.TitleSchool, Kind: models.TargetSchool}
		fillMetrics(&target.DistanceMeters, &target.DurationSeconds, &target.Minutes, legs, 0, len(legs)-1)
		return target
	}
	return models.EtaTarget{Title: models.TitleArrival, Kind: models.TargetArrival}
}

// studentTarget aims at the student's own stop until the bus has been there,
// then at the school. An absent own stop goes straight to the school.
func (e *EtaEngine) studentTarget(ctx context.Context, req models.EtaRequest, stops []models.RouteStop, rows []models.StopEta, pending []pendingStop, legs []maps.Leg) (models.EtaTarget, bool) {
	studentCoords := e.studentCoords(ctx, req.Profile)
	own := findOwnStop(req.Profile, stops, studentCoords, e.cfg.StopReachedMeters)

	pickedUp := false
	if own >= 0 {
		ownCoords := stops[own].Coords
		if ownCoords == nil {
			ownCoords = studentCoords
		}
		if rows[own].Completed {
			pickedUp = true
		} else if ownCoords != nil && utils.DistanceMeters(req.Bus.Lat, req.Bus.Lng, ownCoords.Lat, ownCoords.Lng) <= e.cfg.StopReachedMeters {
			pickedUp = true
		}

		if !pickedUp && !rows[own].Excluded {
			for i, p := range pending {
				if p.row != own {
					continue
				}
				target := models.EtaTarget{Title: models.TitleOwnStop, Kind: models.TargetOwnStop, StopKey: rows[own].Key}
				fillMetrics(&target.DistanceMeters, &target.DurationSeconds, &target.Minutes, legs, 0, i)
				return target, false
			}
		}
	}

	if req.Destination != nil {
		target := models.EtaTarget{Title: models.TitleSchool, Kind: models.TargetSchool}
		fillMetrics(&target.DistanceMeters, &target.DurationSeconds, &target.Minutes, legs, 0, len(legs)-1)
		return target, pickedUp
	}
	return models.EtaTarget{Title: models.TitleArrival, Kind: models.TargetArrival}, pickedUp
}

// findOwnStop matches the student's stop by address or title, then by
// coordinates within the reach radius. It returns -1 when nothing matches.
func findOwnStop(profile *models.Profile, stops []models.RouteStop, studentCoords *models.LatLng, radius float64) int {
	address := profile.StopAddress.String()
	if address != "" {
		lowered := strings.ToLower(address)
		for i, stop := range stops {
			if strings.ToLower(stop.Address) == lowered || strings.ToLower(stop.Title) == lowered {
				return i
			}
		}
		matchText := utils.MatchText(address)
		for i, stop := range stops {
			if matchText != "" && (utils.MatchText(stop.Address) == matchText || utils.MatchText(stop.Title) == matchText) {
				return i
			}
		}
	}
	if studentCoords == nil {
		return -1
	}
	best, bestDistance := -1, math.MaxFloat64
	for i, stop := range stops {
		if stop.Coords == nil {
			continue
		}
		d := utils.DistanceMeters(studentCoords.Lat, studentCoords.Lng, stop.Coords.Lat, stop.Coords.Lng)
		if d <= radius && d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return best
}

func (e *EtaEngine) studentCoords(ctx context.Context, profile *models.Profile) *models.LatLng {
	if coords := profile.StopCoords(); coords != nil {
		return coords
	}
	address := profile.StopAddress.String()
	if address == "" || e.locator == nil {
		return nil
	}
	result, err := e.locator.Geocode(ctx, address)
	if err != nil {
		return nil
	}
	return &models.LatLng{Lat: result.Lat, Lng: result.Lng}
}

// locateStops returns a copy of stops with missing coordinates geocoded
// from their address where possible
func (e *EtaEngine) locateStops(ctx context.Context, stops []models.RouteStop) []models.RouteStop {
	located := make([]models.RouteStop, len(stops))
	copy(located, stops)
	if e.locator == nil {
		return located
	}
	for i := range located {
		if located[i].Coords != nil || located[i].Address == "" {
			continue
		}
		result, err := e.locator.Geocode(ctx, located[i].Address)
		if err != nil {
			continue
		}
		located[i].Coords = &models.LatLng{Lat: result.Lat, Lng: result.Lng}
	}
	return located
}

// markCompleted records stops within reach of the bus and returns the
// day's completed set for the route
func (e *EtaEngine) markCompleted(date, routeKey string, bus models.LatLng, stops []models.RouteStop) map[string]struct{} {
	key := date + "|" + routeKey

	e.mu.Lock()
	defer e.mu.Unlock()

	for stateKey := range e.completed {
		if !strings.HasPrefix(stateKey, date+"|") {
			delete(e.completed, stateKey)
		}
	}
	set, ok := e.completed[key]
	if !ok {
		set = make(map[string]struct{})
		e.completed[key] = set
	}
	for _, stop := range stops {
		if stop.Coords == nil {
			continue
		}
		if utils.DistanceMeters(bus.Lat, bus.Lng, stop.Coords.Lat, stop.Coords.Lng) <= e.cfg.StopReachedMeters {
			set[stop.Key] = struct{}{}
		}
	}

	snapshot := make(map[string]struct{}, len(set))
	for k := range set {
		snapshot[k] = struct{}{}
	}
	return snapshot
}

func (e *EtaEngine) window(listView bool) time.Duration {
	if listView && e.cfg.ListRefreshInterval > 0 {
		return e.cfg.ListRefreshInterval
	}
	return e.cfg.RefreshInterval
}

func (e *EtaEngine) cacheKey(req models.EtaRequest) string {
	uid, role := "", models.RoleMonitor
	if req.Profile != nil {
		uid, role = req.Profile.UID, req.Profile.RoleName()
	}
	return fmt.Sprintf("%s|%s|%s|%t", req.Route.RouteKey, role, uid, req.ListView)
}

func (e *EtaEngine) recentResult(cacheKey, signature string, now time.Time, window time.Duration) *models.EtaResult {
	if window <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.recent[cacheKey]
	if !ok || entry.signature != signature || now.Sub(entry.at) >= window {
		return nil
	}
	result := entry.result
	result.Cached = true
	return &result
}

func (e *EtaEngine) remember(cacheKey, signature string, now time.Time, result models.EtaResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recent) > 4096 {
		horizon := e.cfg.ListRefreshInterval
		if e.cfg.RefreshInterval > horizon {
			horizon = e.cfg.RefreshInterval
		}
		for k, v := range e.recent {
			if now.Sub(v.at) >= horizon {
				delete(e.recent, k)
			}
		}
	}
	e.recent[cacheKey] = cachedEta{signature: signature, at: now, result: result}
}

// EtaSignature identifies an ETA request for debouncing:
// route key, position rounded to 4 decimals, stop set and destination.
func EtaSignature(req models.EtaRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%.4f:%.4f:%d", req.Route.RouteKey, req.Bus.Lat, req.Bus.Lng, len(req.Route.Stops))
	if req.Destination != nil {
		fmt.Fprintf(&b, ":%.4f,%.4f", req.Destination.Lat, req.Destination.Lng)
	}
	absent := make([]string, 0)
	for _, stop := range req.Route.Stops {
		if LookupStatus(req.Statuses, stop.Key, stop.Address, stop.Title).IsAbsent() {
			absent = append(absent, stop.Key)
		}
	}
	if len(absent) > 0 {
		b.WriteString(":" + strings.Join(absent, ","))
	}
	return b.String()
}

func fillMetrics(distance, duration **float64, minutes **int, legs []maps.Leg, start, end int) {
	d, hasDistance, s, hasDuration := maps.SumLegs(legs, start, end)
	if hasDistance {
		*distance = &d
	}
	if hasDuration {
		m := utils.MinutesFromSeconds(s)
		*duration = &s
		*minutes = &m
	}
}
