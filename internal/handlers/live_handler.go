package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// LiveHandler handles monitor location uploads and live bus reads
type LiveHandler struct {
	live     *services.LivePositionService
	tracking *services.TrackingService
	maxAge   time.Duration
	logger   *logrus.Logger
}

// NewLiveHandler creates a new live handler. Buses not seen within maxAge
// are left out of the vehicle feed.
func NewLiveHandler(live *services.LivePositionService, tracking *services.TrackingService, maxAge time.Duration, logger *logrus.Logger) *LiveHandler {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &LiveHandler{live: live, tracking: tracking, maxAge: maxAge, logger: logger}
}

// LocationRequest is the body of POST /api/live/location
type LocationRequest struct {
	Lat models.FlexFloat `json:"lat"`
	Lng models.FlexFloat `json:"lng"`
}

// UploadLocation handles POST /api/live/location
func (h *LiveHandler) UploadLocation(c *gin.Context) {
	monitor, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Profile not loaded"})
		return
	}

	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Lat.Valid || !req.Lng.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Coordinates required"})
		return
	}

	ctx := c.Request.Context()
	position, err := h.live.Upload(ctx, monitor, h.tracking.RouteIDs(ctx, monitor), models.LatLng{Lat: req.Lat.Value, Lng: req.Lng.Value})
	if err != nil {
		var rateErr *services.RateLimitError
		switch {
		case errors.As(err, &rateErr):
			wait := math.Max(1, math.Ceil(time.Until(rateErr.RetryAfter).Seconds()))
			c.Header("Retry-After", strconv.Itoa(int(wait)))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     rateErr.Message,
				"retry_after": rateErr.RetryAfter,
			})
		case errors.Is(err, services.ErrInvalidCoordinates):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates", "message": "Invalid coordinates"})
		case errors.Is(err, services.ErrMissingRoute):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_route", "message": "Monitor has no route assigned"})
		default:
			h.logger.WithError(err).WithField("monitor", monitor.UID).Error("Failed to store live position")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to store position"})
		}
		return
	}
	c.JSON(http.StatusOK, position)
}

// GetPosition handles GET /api/live/:routeId
func (h *LiveHandler) GetPosition(c *gin.Context) {
	routeID := c.Param("routeId")
	position, err := h.live.Current(c.Request.Context(), routeID, utils.RouteID(routeID))
	if err != nil {
		if errors.Is(err, services.ErrLivePositionMissing) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No live position for route"})
			return
		}
		h.logger.WithError(err).WithField("route", routeID).Error("Failed to read live position")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to read position"})
		return
	}
	c.JSON(http.StatusOK, position)
}

// VehicleFeed handles GET /api/live/feed.pb
func (h *LiveHandler) VehicleFeed(c *gin.Context) {
	data, err := h.live.VehicleFeed(c.Request.Context(), h.maxAge)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build vehicle feed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to build feed"})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/x-protobuf", data)
}
