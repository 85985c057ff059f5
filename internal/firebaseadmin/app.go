package firebaseadmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"github.com/schoolways/bus-tracker-backend/internal/config"
	"google.golang.org/api/option"
)

// ErrMissingCredentials is returned when no service account is configured
var ErrMissingCredentials = errors.New("firebase admin credentials not configured")

// Clients bundles the Firebase Admin clients the server uses
type Clients struct {
	App       *firebase.App
	Auth      *auth.Client
	Messaging *messaging.Client
}

// CredentialsJSON returns the service account JSON, either given verbatim
// or assembled from project id, client email and private key
func CredentialsJSON(cfg config.FirebaseConfig) ([]byte, error) {
	if cfg.ServiceAccountJSON != "" {
		if !json.Valid([]byte(cfg.ServiceAccountJSON)) {
			return nil, fmt.Errorf("FIREBASE_ADMIN_SERVICE_ACCOUNT_JSON is not valid JSON")
		}
		return []byte(cfg.ServiceAccountJSON), nil
	}
	if !cfg.HasFirebaseCredentials() {
		return nil, ErrMissingCredentials
	}
	return json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   cfg.ProjectID,
		"client_email": cfg.ClientEmail,
		"private_key":  cfg.PrivateKey,
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
}

// New initializes the Firebase app with its auth and messaging clients
func New(ctx context.Context, cfg config.FirebaseConfig) (*Clients, error) {
	credentials, err := CredentialsJSON(cfg)
	if err != nil {
		return nil, err
	}

	var appConfig *firebase.Config
	if cfg.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, appConfig, option.WithCredentialsJSON(credentials))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return &Clients{App: app, Auth: authClient, Messaging: messagingClient}, nil
}
