package services

import "errors"

var (
	// ErrRouteNotFound means no lookup strategy produced stops; callers treat it as "no route data yet"
	ErrRouteNotFound = errors.New("route not found")

	ErrNotMonitor      = errors.New("profile is not a monitor")
	ErrProfileNotFound = errors.New("profile not found")
	ErrSessionBlocked  = errors.New("account is active on another device")

	// ErrNotConfigured means a server key or credential is missing
	ErrNotConfigured = errors.New("service not configured")

	ErrAddressRequired     = errors.New("address required")
	ErrTokenRequired       = errors.New("token requerido")
	ErrInvalidStatus       = errors.New("invalid stop status")
	ErrInvalidEventType    = errors.New("invalid event type")
	ErrMissingRoute        = errors.New("route is required")
	ErrMissingInstitution  = errors.New("institution code is required")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrLivePositionMissing = errors.New("no live position for route")
)
