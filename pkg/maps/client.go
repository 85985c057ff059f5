package maps

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMissingAPIKey is returned when a client is used without a server key
var ErrMissingAPIKey = errors.New("maps API key not configured")

// APIError is an unsuccessful upstream response
type APIError struct {
	API        string
	StatusCode int
	Status     string
	Details    any
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s API failed: %s (http %d)", e.API, e.Status, e.StatusCode)
	}
	return fmt.Sprintf("%s API failed (http %d)", e.API, e.StatusCode)
}

// Config holds Google Maps Platform client configuration
type Config struct {
	GeocodingAPIKey string
	RoutesAPIKey    string
	GeocodingURL    string
	RoutesURL       string
	Timeout         time.Duration
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 9 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
