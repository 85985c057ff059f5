package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapsHandler_Geocode(t *testing.T) {
	var gotAddress string
	server := fakeMapsServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAddress = r.URL.Query().Get("address")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(gotAddress, "Nowhere") {
			_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Cl. 20 #8-10, Bogotá","geometry":{"location":{"lat":4.62,"lng":-74.065}}}]}`))
	}, nil)

	configured := maps.Config{GeocodingAPIKey: "geo-key", GeocodingURL: server.URL + "/geocode"}

	t.Run("missing address", func(t *testing.T) {
		env := newTestEnv(t, configured)
		w := env.do(t, http.MethodPost, "/api/geocode", map[string]any{"address": "   "}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Address required", decodeBody(t, w)["error"])
	})

	t.Run("no server key", func(t *testing.T) {
		env := newTestEnv(t, maps.Config{})
		w := env.do(t, http.MethodPost, "/api/geocode", map[string]any{"address": "Calle 20 # 8-10"}, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Server key not configured", decodeBody(t, w)["error"])
	})

	t.Run("success appends region", func(t *testing.T) {
		env := newTestEnv(t, configured)
		w := env.do(t, http.MethodPost, "/api/geocode", map[string]any{"address": "Calle 20 # 8-10"}, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.InDelta(t, 4.62, body["lat"], 1e-9)
		assert.InDelta(t, -74.065, body["lng"], 1e-9)
		assert.Equal(t, "Cl. 20 #8-10, Bogotá", body["formattedAddress"])
		assert.Equal(t, "Calle 20 # 8-10, Bogotá, Colombia", gotAddress)
	})

	t.Run("upstream status is reported", func(t *testing.T) {
		env := newTestEnv(t, configured)
		w := env.do(t, http.MethodPost, "/api/geocode", map[string]any{"address": "Nowhere"}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "Geocoding failed", body["error"])
		assert.Equal(t, "ZERO_RESULTS", body["status"])
	})
}

func TestMapsHandler_ComputeRoute(t *testing.T) {
	server := fakeMapsServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Goog-Api-Key") == "revoked" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"status":"PERMISSION_DENIED","message":"key revoked"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"routes":[{"duration":"120s","distanceMeters":900,"polyline":{"encodedPolyline":"_p~iF~ps|U"},"legs":[{"distanceMeters":900}]}]}`))
	})

	twoPoints := map[string]any{"points": []any{
		map[string]any{"lat": 4.61, "lng": -74.07},
		map[string]any{"lat": "4.62", "lng": "-74.065"},
	}}

	tests := []struct {
		name       string
		cfg        maps.Config
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "single point",
			cfg:        maps.Config{RoutesAPIKey: "routes-key", RoutesURL: server.URL + "/routes"},
			body:       map[string]any{"points": []any{map[string]any{"lat": 4.61, "lng": -74.07}}},
			wantStatus: http.StatusBadRequest,
			wantError:  "At least two points required",
		},
		{
			name:       "no routes key",
			cfg:        maps.Config{},
			body:       twoPoints,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Routes API key not configured",
		},
		{
			name: "unparseable coordinate",
			cfg:  maps.Config{RoutesAPIKey: "routes-key", RoutesURL: server.URL + "/routes"},
			body: map[string]any{"points": []any{
				map[string]any{"lat": 4.61, "lng": -74.07},
				map[string]any{"lat": "north", "lng": -74.065},
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid coordinates",
		},
		{
			name: "latitude out of range",
			cfg:  maps.Config{RoutesAPIKey: "routes-key", RoutesURL: server.URL + "/routes"},
			body: map[string]any{"points": []any{
				map[string]any{"lat": 95, "lng": -74.07},
				map[string]any{"lat": 4.62, "lng": -74.065},
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid coordinates",
		},
		{
			name:       "upstream rejection",
			cfg:        maps.Config{RoutesAPIKey: "revoked", RoutesURL: server.URL + "/routes"},
			body:       twoPoints,
			wantStatus: http.StatusBadRequest,
			wantError:  "Routes API failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg)
			w := env.do(t, http.MethodPost, "/api/routes", tt.body, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, w)["error"])
		})
	}

	t.Run("upstream status is reported", func(t *testing.T) {
		env := newTestEnv(t, maps.Config{RoutesAPIKey: "revoked", RoutesURL: server.URL + "/routes"})
		w := env.do(t, http.MethodPost, "/api/routes", twoPoints, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PERMISSION_DENIED", decodeBody(t, w)["status"])
	})

	t.Run("success keeps missing leg fields null", func(t *testing.T) {
		env := newTestEnv(t, maps.Config{RoutesAPIKey: "routes-key", RoutesURL: server.URL + "/routes"})
		w := env.do(t, http.MethodPost, "/api/routes", twoPoints, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "_p~iF~ps|U", body["encodedPolyline"])
		assert.Equal(t, "120s", body["duration"])
		assert.InDelta(t, 900, body["distanceMeters"], 1e-9)
		assert.Equal(t, []any{}, body["optimizedIntermediateWaypointIndex"])

		legs, ok := body["legs"].([]any)
		require.True(t, ok)
		require.Len(t, legs, 1)
		leg := legs[0].(map[string]any)
		assert.InDelta(t, 900, leg["distanceMeters"], 1e-9)
		assert.Nil(t, leg["duration"])
	})
}
