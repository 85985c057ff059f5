package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// PushTokenService manages the device tokens stored on profiles
type PushTokenService struct {
	store   database.DocumentStore
	metrics *metrics.Collector
	logger  *logrus.Logger
}

// NewPushTokenService creates a new PushTokenService
func NewPushTokenService(store database.DocumentStore, m *metrics.Collector, logger *logrus.Logger) *PushTokenService {
	return &PushTokenService{store: store, metrics: m, logger: logger}
}

// Register stores token as the current web token and adds it to the token list
func (s *PushTokenService) Register(ctx context.Context, uid, token, userAgent string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}

	device := utils.ParseUserAgent(userAgent)
	web := map[string]any{
		"token":     token,
		"tokens":    database.ArrayUnion(token),
		"enabled":   true,
		"updatedAt": database.ServerTimestamp(),
		"userAgent": userAgent,
		"device": map[string]any{
			"type":     device.DeviceType,
			"os":       device.OS,
			"browser":  device.Browser,
			"platform": device.Platform,
		},
	}

	path := database.JoinPath("users", uid)
	if err := s.store.Set(ctx, path, map[string]any{"pushNotifications": map[string]any{"web": web}}, true); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"uid":     uid,
		"device":  device.DeviceType,
		"browser": device.Browser,
	}).Info("push token registered")
	return nil
}

// RemoveTokens drops stale tokens from a profile. When the current web token
// is stale it is cleared and web push is disabled.
func (s *PushTokenService) RemoveTokens(ctx context.Context, uid string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	stale := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		stale[t] = struct{}{}
	}

	removed := 0
	err := s.store.Update(ctx, database.JoinPath("users", uid), func(current map[string]any) (map[string]any, error) {
		if current == nil {
			return nil, database.ErrSkipWrite
		}
		changed := false

		if legacy, ok := current["fcmToken"].(string); ok {
			if _, isStale := stale[legacy]; isStale {
				delete(current, "fcmToken")
				changed = true
				removed++
			}
		}

		pushNotifications, _ := current["pushNotifications"].(map[string]any)
		web, _ := pushNotifications["web"].(map[string]any)
		if web != nil {
			if token, ok := web["token"].(string); ok {
				if _, isStale := stale[token]; isStale {
					delete(web, "token")
					web["enabled"] = false
					changed = true
					removed++
				}
			}
			if list, ok := web["tokens"].([]any); ok {
				kept := make([]any, 0, len(list))
				for _, item := range list {
					if token, ok := item.(string); ok {
						if _, isStale := stale[token]; isStale {
							changed = true
							continue
						}
					}
					kept = append(kept, item)
				}
				web["tokens"] = kept
			}
		}

		if !changed {
			return nil, database.ErrSkipWrite
		}
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove stale tokens: %w", err)
	}

	s.metrics.PushTokensRemoved(len(tokens))
	s.logger.WithFields(logrus.Fields{"uid": uid, "tokens": len(tokens), "cleared": removed}).Info("stale push tokens removed")
	return nil
}
