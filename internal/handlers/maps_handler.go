package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/schoolways/bus-tracker-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

// MapsHandler proxies the geocoding and routes APIs so the server keys
// never reach the browser
type MapsHandler struct {
	geocoder *services.GeocodeService
	planner  services.RoutePlanner
	coords   *validator.CoordinateValidator
	metrics  *metrics.Collector
	logger   *logrus.Logger
}

// NewMapsHandler creates a new maps handler
func NewMapsHandler(geocoder *services.GeocodeService, planner services.RoutePlanner, m *metrics.Collector, logger *logrus.Logger) *MapsHandler {
	return &MapsHandler{
		geocoder: geocoder,
		planner:  planner,
		coords:   validator.NewCoordinateValidator(),
		metrics:  m,
		logger:   logger,
	}
}

// GeocodeRequest is the body of POST /api/geocode
type GeocodeRequest struct {
	Address models.FlexString `json:"address"`
}

// RoutesRequest is the body of POST /api/routes. Points are {lat, lng}
// objects with numeric or numeric-string values.
type RoutesRequest struct {
	Points            []map[string]any `json:"points"`
	OptimizeWaypoints bool             `json:"optimizeWaypoints"`
}

// Geocode handles POST /api/geocode
func (h *MapsHandler) Geocode(c *gin.Context) {
	var req GeocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.geocoder.Geocode(c.Request.Context(), req.Address.String())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAddressRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Address required"})
		case errors.Is(err, services.ErrNotConfigured):
			h.logger.WithError(err).Error("Geocoding API key not configured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server key not configured"})
		default:
			body := gin.H{"error": "Geocoding failed"}
			var apiErr *maps.APIError
			if errors.As(err, &apiErr) {
				body["status"] = apiErr.Status
			}
			h.logger.WithError(err).WithField("address", req.Address.String()).Warn("Geocoding failed")
			c.JSON(http.StatusBadRequest, body)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ComputeRoute handles POST /api/routes
func (h *MapsHandler) ComputeRoute(c *gin.Context) {
	var req RoutesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.Points) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least two points required"})
		return
	}
	if h.planner == nil || !h.planner.Configured() {
		h.logger.Error("Routes API key not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Routes API key not configured"})
		return
	}

	validated, err := h.coords.ValidatePoints(req.Points)
	if err != nil {
		h.logger.WithError(err).Debug("Rejected route points")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
		return
	}
	points := make([]maps.LatLng, 0, len(validated))
	for _, p := range validated {
		points = append(points, maps.LatLng{Lat: p.Lat, Lng: p.Lng})
	}

	started := time.Now()
	summary, err := h.planner.ComputeRoute(c.Request.Context(), points, req.OptimizeWaypoints)
	h.metrics.ObserveMaps("routes", started, err)
	if err != nil {
		body := gin.H{"error": "Routes API failed", "status": nil}
		var apiErr *maps.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status != "" {
				body["status"] = apiErr.Status
			}
			body["details"] = apiErr.Details
		}
		h.logger.WithError(err).WithField("points", len(points)).Warn("Routes API failed")
		c.JSON(http.StatusBadRequest, body)
		return
	}

	c.JSON(http.StatusOK, routeResponse(summary))
}

func routeResponse(summary *maps.RouteSummary) gin.H {
	body := gin.H{
		"encodedPolyline":                    nil,
		"duration":                           nil,
		"distanceMeters":                     nil,
		"legs":                               summary.Legs,
		"optimizedIntermediateWaypointIndex": summary.OptimizedIntermediateWaypointIndex,
	}
	if summary.EncodedPolyline != "" {
		body["encodedPolyline"] = summary.EncodedPolyline
	}
	if summary.Duration != "" {
		body["duration"] = summary.Duration
	}
	if summary.DistanceMeters != 0 {
		body["distanceMeters"] = summary.DistanceMeters
	}
	if summary.Legs == nil {
		body["legs"] = []maps.Leg{}
	}
	if summary.OptimizedIntermediateWaypointIndex == nil {
		body["optimizedIntermediateWaypointIndex"] = []int{}
	}
	return body
}
