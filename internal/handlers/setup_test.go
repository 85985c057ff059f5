package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/schoolways/bus-tracker-backend/pkg/jwt"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/schoolways/bus-tracker-backend/pkg/push"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// testEnv is a fully wired API backed by the in-memory stores
type testEnv struct {
	store    *database.MemoryDocumentStore
	receipts *database.MemoryReceiptStore
	jwt      *jwt.Service
	clock    *utils.ServiceClock
	router   *gin.Engine
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T, mapsCfg maps.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := quietLogger()

	clock, err := utils.NewServiceClock("America/Bogota")
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 14, 6, 30, 0, 0, clock.Location())
	clock = clock.WithNow(func() time.Time { return fixed })

	store := database.NewMemoryStore()
	receipts := database.NewMemoryReceiptStore()
	jwtService := jwt.NewService("handler-test-secret-0123456789", time.Hour)

	tracking := config.TrackingConfig{
		StopReachedMeters:   180,
		FallbackSpeedKmh:    24,
		RefreshInterval:     9 * time.Second,
		ListRefreshInterval: 20 * time.Second,
	}
	pushCfg := config.PushConfig{Mode: "dev", Title: "SchoolWays", ClickLink: "/recorrido", SyncDebounce: 25 * time.Second}

	geocoder := services.NewGeocodeService(maps.NewGeocodingClient(mapsCfg), ", Bogotá, Colombia", "colombia", time.Second, nil, logger)
	routesClient := maps.NewRoutesClient(mapsCfg)
	profiles := services.NewProfileService(store, geocoder, logger)
	resolver := services.NewStopResolver(store, config.DefaultResolverConfig(), nil, logger)
	ledger := services.NewStatusLedger(store, nil, clock, logger)
	eta := services.NewEtaEngine(routesClient, geocoder, clock, tracking, time.Second, nil, logger)
	tokens := services.NewPushTokenService(store, nil, logger)
	dispatcher := services.NewNotificationDispatcher(store, receipts, push.NewLogGateway(logger), ledger, tokens, clock, pushCfg, nil, logger)
	trackingService := services.NewTrackingService(profiles, resolver, ledger, eta, dispatcher, logger)
	sessions := services.NewSessionService(store, clock, 2*time.Minute, logger)
	live := services.NewLivePositionService(store, services.NewRateLimitService(5*time.Second), nil, clock, nil, logger)

	mapsHandler := NewMapsHandler(geocoder, routesClient, nil, logger)
	pushHandler := NewPushHandler(tokens, dispatcher, config.FirebaseConfig{ProjectID: "schoolways-test", WebAPIKey: "web-key"}, pushCfg, logger)
	trackingHandler := NewTrackingHandler(trackingService, logger)
	liveHandler := NewLiveHandler(live, trackingService, 10*time.Minute, logger)
	sessionHandler := NewSessionHandler(sessions, logger)

	router := gin.New()
	router.GET("/sw/firebase-messaging", pushHandler.ServiceWorker)

	withProfile := middleware.RequireProfile(profiles)
	monitorOnly := middleware.RequireMonitor()

	api := router.Group("/api")
	api.POST("/geocode", mapsHandler.Geocode)
	api.POST("/routes", mapsHandler.ComputeRoute)
	api.GET("/live/feed.pb", liveHandler.VehicleFeed)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(middleware.NewLocalVerifier(jwtService)))
	protected.POST("/push/register", pushHandler.Register)
	protected.POST("/push/sync", withProfile, monitorOnly, pushHandler.Sync)
	protected.GET("/route/stops", withProfile, trackingHandler.RouteStops)
	protected.GET("/stops/status", withProfile, trackingHandler.GetStopStatuses)
	protected.POST("/stops/status", withProfile, monitorOnly, trackingHandler.UpdateStopStatus)
	protected.POST("/eta", withProfile, trackingHandler.Eta)
	protected.POST("/live/location", withProfile, monitorOnly, liveHandler.UploadLocation)
	protected.GET("/live/:routeId", liveHandler.GetPosition)
	protected.POST("/session/claim", sessionHandler.Claim)
	protected.POST("/session/heartbeat", sessionHandler.Heartbeat)
	protected.POST("/session/release", sessionHandler.Release)

	return &testEnv{store: store, receipts: receipts, jwt: jwtService, clock: clock, router: router}
}

// seedRoute stores route "Ruta 3" of institution COL1 with a monitor and one student
func (e *testEnv) seedRoute(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.Set(ctx, "routes/ruta-3", map[string]any{
		"name": "Ruta 3",
		"stops": []any{
			map[string]any{"id": "p1", "title": "Calle 10", "address": "Calle 10 # 5-20", "lat": 4.6100, "lng": -74.0700, "order": 1},
			map[string]any{"id": "p2", "title": "Calle 20", "address": "Calle 20 # 8-10", "lat": 4.6200, "lng": -74.0650, "order": 2},
			map[string]any{"id": "p3", "title": "Calle 30", "address": "Calle 30 # 12-40", "lat": 4.6300, "lng": -74.0600, "order": 3},
		},
	}, false))
	require.NoError(t, e.store.Set(ctx, "users/monitor-1", map[string]any{
		"role":            "monitora",
		"route":           "Ruta 3",
		"institutionCode": "COL1",
		"institutionLat":  4.6500,
		"institutionLng":  -74.0500,
	}, false))
	require.NoError(t, e.store.Set(ctx, "users/student-1", map[string]any{
		"accountType":     "student",
		"studentName":     "Sofia",
		"route":           "Ruta 3",
		"institutionCode": "COL1",
		"stopAddress":     "Calle 20 # 8-10",
		"pushNotifications": map[string]any{
			"web": map[string]any{"token": "tok-sofia", "enabled": true},
		},
	}, false))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, uid string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		token, err := e.jwt.GenerateAccessToken(uid, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// fakeMapsServer serves canned geocoding and routes responses
func fakeMapsServer(t *testing.T, geocode, routes http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if geocode != nil {
		mux.HandleFunc("/geocode", geocode)
	}
	if routes != nil {
		mux.HandleFunc("/routes", routes)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
