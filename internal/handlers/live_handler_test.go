package handlers

import (
	"net/http"
	"strconv"
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestLiveHandler_UploadAndRead(t *testing.T) {
	env := newTestEnv(t, maps.Config{})
	env.seedRoute(t)

	w := env.do(t, http.MethodGet, "/api/live/ruta-3", nil, "student-1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/live/location", map[string]any{"lat": 4.605, "lng": "-74.072"}, "monitor-1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ruta-3", body["routeId"])
	assert.InDelta(t, 4.605, body["lat"], 1e-9)

	t.Run("second upload is throttled", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/live/location", map[string]any{"lat": 4.606, "lng": -74.071}, "monitor-1")
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, retry, 1)
		assert.Equal(t, "rate_limited", decodeBody(t, w)["error"])
	})

	t.Run("students read by route name", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/live/Ruta%203", nil, "student-1")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.InDelta(t, 4.605, body["lat"], 1e-9)
		assert.InDelta(t, -74.072, body["lng"], 1e-9)
		assert.Equal(t, "monitor-1", body["uid"])
	})

	t.Run("vehicle feed", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/live/feed.pb", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/x-protobuf", w.Header().Get("Content-Type"))

		var feed gtfsrt.FeedMessage
		require.NoError(t, proto.Unmarshal(w.Body.Bytes(), &feed))
		require.Len(t, feed.GetEntity(), 1)
		position := feed.GetEntity()[0].GetVehicle().GetPosition()
		assert.InDelta(t, 4.605, position.GetLatitude(), 1e-5)
		assert.InDelta(t, -74.072, position.GetLongitude(), 1e-5)
	})
}

func TestLiveHandler_UploadRejections(t *testing.T) {
	tests := []struct {
		name       string
		uid        string
		body       map[string]any
		wantStatus int
	}{
		{name: "students cannot upload", uid: "student-1", body: map[string]any{"lat": 4.6, "lng": -74.07}, wantStatus: http.StatusForbidden},
		{name: "missing longitude", uid: "monitor-1", body: map[string]any{"lat": 4.6}, wantStatus: http.StatusBadRequest},
		{name: "out of range", uid: "monitor-1", body: map[string]any{"lat": 91, "lng": -74.07}, wantStatus: http.StatusBadRequest},
		{name: "no auth", uid: "", body: map[string]any{"lat": 4.6, "lng": -74.07}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, maps.Config{})
			env.seedRoute(t)
			w := env.do(t, http.MethodPost, "/api/live/location", tt.body, tt.uid)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
