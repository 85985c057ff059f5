package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GeocodeResult is the first match for an address
type GeocodeResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formattedAddress"`
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// GeocodingClient calls the Geocoding API
type GeocodingClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeocodingClient creates a new GeocodingClient
func NewGeocodingClient(cfg Config) *GeocodingClient {
	baseURL := cfg.GeocodingURL
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	}
	return &GeocodingClient{
		apiKey:  cfg.GeocodingAPIKey,
		baseURL: baseURL,
		client:  newHTTPClient(cfg.Timeout),
	}
}

// Configured reports whether the client has an API key
func (c *GeocodingClient) Configured() bool {
	return c.apiKey != ""
}

// Geocode resolves an address to its first result
func (c *GeocodingClient) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	var data geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}

	if data.Status != "OK" || len(data.Results) == 0 {
		return nil, &APIError{
			API:        "Geocoding",
			StatusCode: resp.StatusCode,
			Status:     data.Status,
			Details:    data.ErrorMessage,
		}
	}

	first := data.Results[0]
	return &GeocodeResult{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}, nil
}
