package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/firebaseadmin"
	"github.com/schoolways/bus-tracker-backend/internal/handlers"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/publisher"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/schoolways/bus-tracker-backend/pkg/jwt"
	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/schoolways/bus-tracker-backend/pkg/push"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SchoolWays bus tracking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx := context.Background()
	collector := metrics.New()

	clock, err := utils.NewServiceClock(cfg.Tracking.ServiceTimeZone)
	if err != nil {
		logger.Fatalf("Failed to load service time zone: %v", err)
	}

	// Initialize document store
	var (
		db       database.DB
		store    database.DocumentStore
		receipts database.ReceiptStore
	)
	if cfg.Database.Mode == "memory" {
		logger.Warn("Using in-memory document store; data is lost on restart")
		store = database.NewMemoryStore()
		receipts = database.NewMemoryReceiptStore()
	} else {
		logger.Info("Connecting to database...")
		db, err = database.NewConnection(cfg.Database, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.EnsureSchema(ctx, db); err != nil {
			logger.Fatalf("Failed to prepare database schema: %v", err)
		}
		logger.Info("Database connection established")
		store = database.NewPostgresDocumentStore(db)
		receipts = database.NewReceiptRepository(db)
	}

	// Firebase Admin is needed for ID token verification and FCM delivery
	var firebaseClients *firebaseadmin.Clients
	if cfg.Auth.Mode == "firebase" || cfg.Push.Mode == "production" {
		firebaseClients, err = firebaseadmin.New(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatalf("Failed to initialize Firebase Admin: %v", err)
		}
		logger.Info("Firebase Admin initialized")
	}

	var verifier middleware.TokenVerifier
	if cfg.Auth.Mode == "firebase" {
		verifier = middleware.NewFirebaseVerifier(firebaseClients.Auth)
	} else {
		logger.Warn("AUTH_MODE=local: accepting locally signed tokens")
		verifier = middleware.NewLocalVerifier(jwt.NewService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry))
	}

	var gateway push.Gateway
	if cfg.Push.Mode == "production" {
		gateway = push.NewFCMGateway(firebaseClients.Messaging)
	} else {
		logger.Info("PUSH_MODE=dev: notifications are logged, not sent")
		gateway = push.NewLogGateway(logger)
	}
	logger.Infof("Push gateway: %s", gateway.GetName())

	var positions publisher.PositionPublisher = publisher.NoopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, collector, logger)
		if err != nil {
			logger.Warnf("NATS unavailable, live fan-out disabled: %v", err)
		} else {
			positions = natsPublisher
		}
	}

	// Initialize services
	logger.Info("Initializing services...")
	mapsCfg := maps.Config{
		GeocodingAPIKey: cfg.Maps.GeocodingAPIKey,
		RoutesAPIKey:    cfg.Maps.RoutesAPIKey,
		GeocodingURL:    cfg.Maps.GeocodingURL,
		RoutesURL:       cfg.Maps.RoutesURL,
		Timeout:         cfg.Maps.RequestTimeout,
	}
	routesClient := maps.NewRoutesClient(mapsCfg)
	geocodeService := services.NewGeocodeService(
		maps.NewGeocodingClient(mapsCfg),
		cfg.Maps.RegionSuffix,
		cfg.Maps.RegionKeyword,
		cfg.Maps.RequestTimeout,
		collector,
		logger,
	)

	profileService := services.NewProfileService(store, geocodeService, logger)
	resolver := services.NewStopResolver(store, cfg.Resolver, collector, logger)
	ledger := services.NewStatusLedger(store, cfg.Resolver.DailyStatusRoots, clock, logger)
	etaEngine := services.NewEtaEngine(routesClient, geocodeService, clock, cfg.Tracking, cfg.Maps.RequestTimeout, collector, logger)
	pushTokenService := services.NewPushTokenService(store, collector, logger)
	dispatcher := services.NewNotificationDispatcher(store, receipts, gateway, ledger, pushTokenService, clock, cfg.Push, collector, logger)
	trackingService := services.NewTrackingService(profileService, resolver, ledger, etaEngine, dispatcher, logger)
	sessionService := services.NewSessionService(store, clock, cfg.Tracking.SessionTTL, logger)
	uploadLimiter := services.NewRateLimitService(cfg.Tracking.LocationUploadEvery)
	liveService := services.NewLivePositionService(store, uploadLimiter, positions, clock, collector, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(store, receipts, uploadLimiter, clock, cfg.Tracking.CleanupSchedule, cfg.Tracking.RetentionDays, collector, logger).
		WithGeocodeCache(geocodeService)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - daily cleanup enabled")

	// Initialize handlers
	mapsHandler := handlers.NewMapsHandler(geocodeService, routesClient, collector, logger)
	pushHandler := handlers.NewPushHandler(pushTokenService, dispatcher, cfg.Firebase, cfg.Push, logger)
	trackingHandler := handlers.NewTrackingHandler(trackingService, logger)
	liveHandler := handlers.NewLiveHandler(liveService, trackingService, 10*time.Minute, logger)
	sessionHandler := handlers.NewSessionHandler(sessionService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, collector))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check and metrics endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	// Service worker for background push
	router.GET("/sw/firebase-messaging", pushHandler.ServiceWorker)

	authMiddleware := middleware.AuthMiddleware(verifier)
	withProfile := middleware.RequireProfile(profileService)
	monitorOnly := middleware.RequireMonitor()

	api := router.Group("/api")
	{
		api.POST("/geocode", mapsHandler.Geocode)
		api.POST("/routes", mapsHandler.ComputeRoute)
		api.GET("/live/feed.pb", liveHandler.VehicleFeed)

		protected := api.Group("")
		protected.Use(authMiddleware)
		{
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
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop cron service
	logger.Info("Stopping cron service...")
	cronService.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Flush pending live position messages
	positions.Close()

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.ObserveHTTP(c.Request.Method, route, status, start)

		fields := logrus.Fields{
			"status":     status,
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         utils.GetRealIP(c),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}

		entry := logger.WithFields(fields)

		// Log errors with more details
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		// Log based on status code
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		case path == "/health" || path == "/metrics":
			entry.Debug("Request completed successfully")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "memory"
		if db != nil {
			dbStatus = "healthy"
			if err := db.Ping(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"database": "unhealthy",
					"error":    err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
