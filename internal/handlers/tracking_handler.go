package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// TrackingHandler serves route stops, daily stop statuses and ETAs
type TrackingHandler struct {
	tracking *services.TrackingService
	logger   *logrus.Logger
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(tracking *services.TrackingService, logger *logrus.Logger) *TrackingHandler {
	return &TrackingHandler{tracking: tracking, logger: logger}
}

// EtaRequest is the body of POST /api/eta
type EtaRequest struct {
	Lat      models.FlexFloat `json:"lat"`
	Lng      models.FlexFloat `json:"lng"`
	ListView bool             `json:"listView"`
}

// RouteStops handles GET /api/route/stops
func (h *TrackingHandler) RouteStops(c *gin.Context) {
	profile, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Profile not loaded"})
		return
	}

	view, err := h.tracking.RouteView(c.Request.Context(), profile, c.Query("date"))
	if err != nil {
		h.respondRouteError(c, profile, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetStopStatuses handles GET /api/stops/status
func (h *TrackingHandler) GetStopStatuses(c *gin.Context) {
	profile, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Profile not loaded"})
		return
	}

	view, err := h.tracking.Statuses(c.Request.Context(), profile, c.Query("date"))
	if err != nil {
		h.respondRouteError(c, profile, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateStopStatus handles POST /api/stops/status
func (h *TrackingHandler) UpdateStopStatus(c *gin.Context) {
	monitor, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Profile not loaded"})
		return
	}

	var req services.StopStatusInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	outcome, err := h.tracking.MarkStop(c.Request.Context(), monitor, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "Status must be boarded, missed_bus or empty"})
		case errors.Is(err, services.ErrMissingRoute):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_route", "message": "Monitor has no route assigned"})
		default:
			h.logger.WithError(err).WithField("monitor", monitor.UID).Error("Failed to update stop status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to update stop status"})
		}
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Eta handles POST /api/eta
func (h *TrackingHandler) Eta(c *gin.Context) {
	profile, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Profile not loaded"})
		return
	}

	var req EtaRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Lat.Valid || !req.Lng.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Bus coordinates required"})
		return
	}

	result, err := h.tracking.Eta(c.Request.Context(), profile, models.LatLng{Lat: req.Lat.Value, Lng: req.Lng.Value}, req.ListView)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCoordinates) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates", "message": "Invalid coordinates"})
			return
		}
		h.respondRouteError(c, profile, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TrackingHandler) respondRouteError(c *gin.Context, profile *models.Profile, err error) {
	if errors.Is(err, services.ErrRouteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "route_not_found",
			"message": "No route data yet",
			"code":    "ROUTE_NOT_FOUND",
		})
		return
	}
	h.logger.WithError(err).WithField("uid", profile.UID).Error("Route lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load route"})
}
