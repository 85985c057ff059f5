package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// SessionHandler keeps one active device per account
type SessionHandler struct {
	sessions *services.SessionService
	logger   *logrus.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// SessionRequest identifies the calling device
type SessionRequest struct {
	DeviceID string `json:"deviceId"`
}

// Claim handles POST /api/session/claim
func (h *SessionHandler) Claim(c *gin.Context) {
	user, ok := middleware.MustGetUserContext(c)
	if !ok {
		return
	}
	var req SessionRequest
	_ = c.ShouldBindJSON(&req)

	session, err := h.sessions.Claim(c.Request.Context(), user.UID, req.DeviceID, c.Request.UserAgent())
	if err != nil {
		h.respondError(c, user.UID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": session})
}

// Heartbeat handles POST /api/session/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	user, ok := middleware.MustGetUserContext(c)
	if !ok {
		return
	}
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "deviceId is required"})
		return
	}

	session, err := h.sessions.Heartbeat(c.Request.Context(), user.UID, req.DeviceID)
	if err != nil {
		h.respondError(c, user.UID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": session})
}

// Release handles POST /api/session/release
func (h *SessionHandler) Release(c *gin.Context) {
	user, ok := middleware.MustGetUserContext(c)
	if !ok {
		return
	}
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "deviceId is required"})
		return
	}

	if err := h.sessions.Release(c.Request.Context(), user.UID, req.DeviceID); err != nil {
		h.respondError(c, user.UID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SessionHandler) respondError(c *gin.Context, uid string, err error) {
	switch {
	case errors.Is(err, services.ErrSessionBlocked):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "session_blocked",
			"message": "La cuenta esta activa en otro dispositivo",
			"code":    "SESSION_ACTIVE_ELSEWHERE",
		})
	case errors.Is(err, services.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Profile not found",
			"code":    "PROFILE_NOT_FOUND",
		})
	default:
		h.logger.WithError(err).WithField("uid", uid).Error("Session update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Session update failed"})
	}
}
