package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const routesFieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline," +
	"routes.legs.distanceMeters,routes.legs.duration,routes.optimizedIntermediateWaypointIndex"

// Leg is one segment between consecutive waypoints
type Leg struct {
	DistanceMeters *float64 `json:"distanceMeters"`
	Duration       *string  `json:"duration"`
}

// DurationSeconds parses the leg duration, if present
func (l Leg) DurationSeconds() (float64, bool) {
	if l.Duration == nil {
		return 0, false
	}
	return ParseDuration(*l.Duration)
}

// RouteSummary is the simplified computeRoutes response
type RouteSummary struct {
	EncodedPolyline                    string  `json:"encodedPolyline,omitempty"`
	Duration                           string  `json:"duration,omitempty"`
	DistanceMeters                     float64 `json:"distanceMeters,omitempty"`
	Legs                               []Leg   `json:"legs"`
	OptimizedIntermediateWaypointIndex []int   `json:"optimizedIntermediateWaypointIndex"`
}

type waypoint struct {
	Location struct {
		LatLng struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"latLng"`
	} `json:"location"`
}

func newWaypoint(p LatLng) waypoint {
	var w waypoint
	w.Location.LatLng.Latitude = p.Lat
	w.Location.LatLng.Longitude = p.Lng
	return w
}

type computeRoutesRequest struct {
	Origin                waypoint   `json:"origin"`
	Destination           waypoint   `json:"destination"`
	Intermediates         []waypoint `json:"intermediates"`
	OptimizeWaypointOrder bool       `json:"optimizeWaypointOrder"`
	TravelMode            string     `json:"travelMode"`
	RoutingPreference     string     `json:"routingPreference"`
	PolylineQuality       string     `json:"polylineQuality"`
	PolylineEncoding      string     `json:"polylineEncoding"`
}

type computeRoutesResponse struct {
	Routes []struct {
		Duration       string  `json:"duration"`
		DistanceMeters float64 `json:"distanceMeters"`
		Polyline       struct {
			EncodedPolyline string `json:"encodedPolyline"`
		} `json:"polyline"`
		Legs []struct {
			DistanceMeters *float64 `json:"distanceMeters"`
			Duration       *string  `json:"duration"`
		} `json:"legs"`
		OptimizedIntermediateWaypointIndex []int `json:"optimizedIntermediateWaypointIndex"`
	} `json:"routes"`
	Error *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// RoutesClient calls the Routes API computeRoutes method
type RoutesClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewRoutesClient creates a new RoutesClient
func NewRoutesClient(cfg Config) *RoutesClient {
	baseURL := cfg.RoutesURL
	if baseURL == "" {
		baseURL = "https://routes.googleapis.com/directions/v2:computeRoutes"
	}
	return &RoutesClient{
		apiKey:  cfg.RoutesAPIKey,
		baseURL: baseURL,
		client:  newHTTPClient(cfg.Timeout),
	}
}

// Configured reports whether the client has an API key
func (c *RoutesClient) Configured() bool {
	return c.apiKey != ""
}

// ComputeRoute requests a driving route through points (origin, intermediates..., destination).
// Waypoint optimization is only requested with more than one intermediate.
func (c *RoutesClient) ComputeRoute(ctx context.Context, points []LatLng, optimize bool) (*RouteSummary, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("at least two points required")
	}

	intermediates := make([]waypoint, 0, len(points)-2)
	for _, p := range points[1 : len(points)-1] {
		intermediates = append(intermediates, newWaypoint(p))
	}

	body := computeRoutesRequest{
		Origin:                newWaypoint(points[0]),
		Destination:           newWaypoint(points[len(points)-1]),
		Intermediates:         intermediates,
		OptimizeWaypointOrder: optimize && len(intermediates) > 1,
		TravelMode:            "DRIVE",
		RoutingPreference:     "TRAFFIC_AWARE",
		PolylineQuality:       "HIGH_QUALITY",
		PolylineEncoding:      "ENCODED_POLYLINE",
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal routes request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create routes request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", routesFieldMask)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routes request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes response: %w", err)
	}

	var data computeRoutesResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode routes response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || len(data.Routes) == 0 {
		apiErr := &APIError{API: "Routes", StatusCode: resp.StatusCode, Details: json.RawMessage(raw)}
		if data.Error != nil {
			apiErr.Status = data.Error.Status
		}
		return nil, apiErr
	}

	route := data.Routes[0]
	summary := &RouteSummary{
		EncodedPolyline:                    route.Polyline.EncodedPolyline,
		Duration:                           route.Duration,
		DistanceMeters:                     route.DistanceMeters,
		Legs:                               make([]Leg, 0, len(route.Legs)),
		OptimizedIntermediateWaypointIndex: route.OptimizedIntermediateWaypointIndex,
	}
	if summary.OptimizedIntermediateWaypointIndex == nil {
		summary.OptimizedIntermediateWaypointIndex = []int{}
	}
	for _, leg := range route.Legs {
		summary.Legs = append(summary.Legs, Leg{DistanceMeters: leg.DistanceMeters, Duration: leg.Duration})
	}
	return summary, nil
}

// ParseDuration parses a protobuf JSON duration such as "754s" or "12.5s"
func ParseDuration(value string) (float64, bool) {
	text := strings.TrimSpace(value)
	if !strings.HasSuffix(text, "s") {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(strings.TrimSuffix(text, "s"), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// SumLegs adds distance and duration of legs[start..end]; each total is
// reported only when at least one leg carried that metric.
func SumLegs(legs []Leg, start, end int) (distance float64, hasDistance bool, duration float64, hasDuration bool) {
	if len(legs) == 0 {
		return 0, false, 0, false
	}
	if start < 0 {
		start = 0
	}
	if end > len(legs)-1 {
		end = len(legs) - 1
	}
	for i := start; i <= end; i++ {
		if legs[i].DistanceMeters != nil {
			distance += *legs[i].DistanceMeters
			hasDistance = true
		}
		if seconds, ok := legs[i].DurationSeconds(); ok {
			duration += seconds
			hasDuration = true
		}
	}
	return distance, hasDistance, duration, hasDuration
}
