package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Auth configuration (Firebase ID tokens or locally issued JWTs)
	Auth AuthConfig

	// Firebase Admin configuration
	Firebase FirebaseConfig

	// Google Maps Platform configuration
	Maps MapsConfig

	// Tracking engine configuration
	Tracking TrackingConfig

	// Push notification configuration
	Push PushConfig

	// NATS configuration
	NATS NATSConfig

	// CORS configuration
	CORS CORSConfig

	// Resolver collection name variants
	Resolver ResolverConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	PublicURL   string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Mode               string // "postgres" or "memory"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// AuthConfig holds bearer token verification configuration
type AuthConfig struct {
	Mode              string // "firebase" or "local"
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// FirebaseConfig holds Firebase Admin and web client configuration
type FirebaseConfig struct {
	ProjectID          string
	ClientEmail        string
	PrivateKey         string
	ServiceAccountJSON string

	// Public web config used by the generated service worker
	WebAPIKey         string
	AuthDomain        string
	StorageBucket     string
	MessagingSenderID string
	AppID             string
}

// MapsConfig holds Google Maps Platform configuration
type MapsConfig struct {
	GeocodingAPIKey string
	RoutesAPIKey    string
	GeocodingURL    string
	RoutesURL       string
	RequestTimeout  time.Duration
	RegionSuffix    string // appended to addresses that do not name the country
	RegionKeyword   string
}

// TrackingConfig holds ETA engine and ledger configuration
type TrackingConfig struct {
	ServiceTimeZone     string
	StopReachedMeters   float64
	FallbackSpeedKmh    float64
	RefreshInterval     time.Duration // ETA recomputation debounce
	ListRefreshInterval time.Duration // debounce used by list views
	LocationUploadEvery time.Duration
	SessionTTL          time.Duration
	RetentionDays       int
	CleanupSchedule     string
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Mode           string // "dev" logs messages, "production" sends through FCM
	Title          string
	ClickLink      string
	SyncDebounce   time.Duration
	MaxConcurrency int
}

// NATSConfig holds the optional live position fan-out configuration
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// ResolverConfig lists the collection name variants tried by the stop resolver
type ResolverConfig struct {
	SchoolCollections    []string `yaml:"school_collections"`
	RouteCollections     []string `yaml:"route_collections"`
	StopCollections      []string `yaml:"stop_collections"`
	RootRouteCollections []string `yaml:"root_route_collections"`
	DailyStatusRoots     []string `yaml:"daily_status_roots"`
	ScanLimit            int      `yaml:"scan_limit"`
}

// DefaultResolverConfig returns the collection names found in production data
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		SchoolCollections:    []string{"colegios", "institutions"},
		RouteCollections:     []string{"rutas", "routes"},
		StopCollections:      []string{"direcciones", "addresses", "stops"},
		RootRouteCollections: []string{"routes", "rutas"},
		DailyStatusRoots:     []string{"routes", "rutas"},
		ScanLimit:            10,
	}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			PublicURL:   getEnv("PUBLIC_URL", ""),
		},
		Database: DatabaseConfig{
			Mode:               getEnv("DATABASE_MODE", "postgres"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Auth: AuthConfig{
			Mode:              getEnv("AUTH_MODE", "firebase"),
			JWTSecret:         getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Firebase: FirebaseConfig{
			ProjectID:          getEnvFirst([]string{"FIREBASE_ADMIN_PROJECT_ID", "FIREBASE_PROJECT_ID"}, ""),
			ClientEmail:        getEnvFirst([]string{"FIREBASE_ADMIN_CLIENT_EMAIL", "FIREBASE_CLIENT_EMAIL"}, ""),
			PrivateKey:         NormalizePrivateKey(getEnvFirst([]string{"FIREBASE_ADMIN_PRIVATE_KEY", "FIREBASE_PRIVATE_KEY"}, "")),
			ServiceAccountJSON: getEnv("FIREBASE_ADMIN_SERVICE_ACCOUNT_JSON", ""),
			WebAPIKey:          getEnv("FIREBASE_WEB_API_KEY", ""),
			AuthDomain:         getEnv("FIREBASE_AUTH_DOMAIN", ""),
			StorageBucket:      getEnv("FIREBASE_STORAGE_BUCKET", ""),
			MessagingSenderID:  getEnv("FIREBASE_MESSAGING_SENDER_ID", ""),
			AppID:              getEnv("FIREBASE_APP_ID", ""),
		},
		Maps: MapsConfig{
			GeocodingAPIKey: getEnv("GOOGLE_GEOCODING_API_KEY", ""),
			RoutesAPIKey:    getEnv("GOOGLE_ROUTES_API_KEY", ""),
			GeocodingURL:    getEnv("GOOGLE_GEOCODING_URL", "https://maps.googleapis.com/maps/api/geocode/json"),
			RoutesURL:       getEnv("GOOGLE_ROUTES_URL", "https://routes.googleapis.com/directions/v2:computeRoutes"),
			RequestTimeout:  time.Duration(getEnvAsInt("MAPS_REQUEST_TIMEOUT_MS", 9000)) * time.Millisecond,
			RegionSuffix:    getEnv("GEOCODE_REGION_SUFFIX", ", Bogotá, Colombia"),
			RegionKeyword:   getEnv("GEOCODE_REGION_KEYWORD", "colombia"),
		},
		Tracking: TrackingConfig{
			ServiceTimeZone:     getEnv("SERVICE_TIME_ZONE", "America/Bogota"),
			StopReachedMeters:   getEnvAsFloat("STOP_REACHED_METERS", 180),
			FallbackSpeedKmh:    getEnvAsFloat("FALLBACK_SPEED_KMH", 24),
			RefreshInterval:     time.Duration(getEnvAsInt("ETA_REFRESH_INTERVAL_MS", 9000)) * time.Millisecond,
			ListRefreshInterval: time.Duration(getEnvAsInt("ETA_LIST_REFRESH_INTERVAL_MS", 20000)) * time.Millisecond,
			LocationUploadEvery: time.Duration(getEnvAsInt("LOCATION_UPLOAD_INTERVAL_MS", 5000)) * time.Millisecond,
			SessionTTL:          time.Duration(getEnvAsInt("SESSION_TTL_SECONDS", 120)) * time.Second,
			RetentionDays:       getEnvAsInt("DAILY_RETENTION_DAYS", 14),
			CleanupSchedule:     getEnv("CLEANUP_SCHEDULE", "0 30 3 * * *"),
		},
		Push: PushConfig{
			Mode:           getEnv("PUSH_MODE", "dev"),
			Title:          getEnv("PUSH_TITLE", "SchoolWays"),
			ClickLink:      getEnv("PUSH_CLICK_LINK", "/recorrido"),
			SyncDebounce:   time.Duration(getEnvAsInt("PUSH_SYNC_DEBOUNCE_MS", 25000)) * time.Millisecond,
			MaxConcurrency: getEnvAsInt("PUSH_MAX_CONCURRENCY", 8),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "bus"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Resolver: DefaultResolverConfig(),
	}

	if path := getEnv("STOP_RESOLVER_CONFIG", ""); path != "" {
		resolver, err := LoadResolverConfig(path)
		if err != nil {
			return nil, err
		}
		config.Resolver = resolver
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadResolverConfig reads collection name variants from a YAML file.
// Lists missing from the file keep their defaults.
func LoadResolverConfig(path string) (ResolverConfig, error) {
	resolver := DefaultResolverConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return resolver, fmt.Errorf("failed to read resolver config %s: %w", path, err)
	}

	var fromFile ResolverConfig
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return resolver, fmt.Errorf("failed to parse resolver config %s: %w", path, err)
	}

	if len(fromFile.SchoolCollections) > 0 {
		resolver.SchoolCollections = fromFile.SchoolCollections
	}
	if len(fromFile.RouteCollections) > 0 {
		resolver.RouteCollections = fromFile.RouteCollections
	}
	if len(fromFile.StopCollections) > 0 {
		resolver.StopCollections = fromFile.StopCollections
	}
	if len(fromFile.RootRouteCollections) > 0 {
		resolver.RootRouteCollections = fromFile.RootRouteCollections
	}
	if len(fromFile.DailyStatusRoots) > 0 {
		resolver.DailyStatusRoots = fromFile.DailyStatusRoots
	}
	if fromFile.ScanLimit > 0 {
		resolver.ScanLimit = fromFile.ScanLimit
	}

	return resolver, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Mode {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
		if c.Server.Environment == "production" {
			return fmt.Errorf("DATABASE_MODE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("invalid DATABASE_MODE: %s (must be 'postgres' or 'memory')", c.Database.Mode)
	}

	switch c.Auth.Mode {
	case "firebase":
	case "local":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=local")
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE: %s (must be 'firebase' or 'local')", c.Auth.Mode)
	}

	if c.Push.Mode != "dev" && c.Push.Mode != "production" {
		return fmt.Errorf("invalid PUSH_MODE: %s (must be 'dev' or 'production')", c.Push.Mode)
	}

	if _, err := time.LoadLocation(c.Tracking.ServiceTimeZone); err != nil {
		return fmt.Errorf("invalid SERVICE_TIME_ZONE %q: %w", c.Tracking.ServiceTimeZone, err)
	}

	if c.Tracking.StopReachedMeters <= 0 {
		return fmt.Errorf("STOP_REACHED_METERS must be positive")
	}

	if c.Tracking.FallbackSpeedKmh <= 0 {
		return fmt.Errorf("FALLBACK_SPEED_KMH must be positive")
	}

	return nil
}

// HasFirebaseCredentials reports whether service account credentials are set
func (f FirebaseConfig) HasFirebaseCredentials() bool {
	if f.ServiceAccountJSON != "" {
		return true
	}
	return f.ProjectID != "" && f.ClientEmail != "" && f.PrivateKey != ""
}

// NormalizePrivateKey strips surrounding quotes and expands escaped newlines
func NormalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			trimmed = trimmed[1 : len(trimmed)-1]
		}
	}
	return strings.ReplaceAll(trimmed, `\n`, "\n")
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFirst(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
