package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// SessionService keeps a single active device session per account
type SessionService struct {
	store  database.DocumentStore
	clock  *utils.ServiceClock
	ttl    time.Duration
	logger *logrus.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(store database.DocumentStore, clock *utils.ServiceClock, ttl time.Duration, logger *logrus.Logger) *SessionService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SessionService{store: store, clock: clock, ttl: ttl, logger: logger}
}

// Claim takes the account for deviceID unless another device was seen
// within the TTL. Reclaiming from the same device keeps claimedAt.
func (s *SessionService) Claim(ctx context.Context, uid, deviceID, userAgent string) (*models.ActiveSession, error) {
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	now := s.clock.Now()
	var session *models.ActiveSession

	err := s.store.Update(ctx, database.JoinPath("users", uid), func(current map[string]any) (map[string]any, error) {
		if current == nil {
			return nil, ErrProfileNotFound
		}
		existing := decodeSession(current)
		if existing.IsFresh(now, s.ttl) && existing.DeviceID != deviceID {
			return nil, ErrSessionBlocked
		}

		claimedAt := now
		if existing != nil && existing.DeviceID == deviceID && !existing.ClaimedAt.IsZero() {
			claimedAt = existing.ClaimedAt.Time
		}
		session = &models.ActiveSession{
			DeviceID:   deviceID,
			UserAgent:  userAgent,
			ClaimedAt:  models.FlexTime{Time: claimedAt},
			LastSeenAt: models.FlexTime{Time: now},
		}
		current["activeSession"] = sessionData(session)
		return current, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionBlocked) || errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"uid": uid, "device": deviceID}).Info("session claimed")
	return session, nil
}

// Heartbeat renews lastSeenAt for the owning device
func (s *SessionService) Heartbeat(ctx context.Context, uid, deviceID string) (*models.ActiveSession, error) {
	now := s.clock.Now()
	var session *models.ActiveSession

	err := s.store.Update(ctx, database.JoinPath("users", uid), func(current map[string]any) (map[string]any, error) {
		if current == nil {
			return nil, ErrProfileNotFound
		}
		existing := decodeSession(current)
		if existing == nil || existing.DeviceID != deviceID {
			return nil, ErrSessionBlocked
		}
		existing.LastSeenAt = models.FlexTime{Time: now}
		session = existing
		current["activeSession"] = sessionData(existing)
		return current, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionBlocked) || errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to renew session: %w", err)
	}
	return session, nil
}

// Release ends the session when it belongs to deviceID
func (s *SessionService) Release(ctx context.Context, uid, deviceID string) error {
	released := false
	err := s.store.Update(ctx, database.JoinPath("users", uid), func(current map[string]any) (map[string]any, error) {
		if current == nil {
			return nil, database.ErrSkipWrite
		}
		existing := decodeSession(current)
		if existing == nil || existing.DeviceID != deviceID {
			return nil, database.ErrSkipWrite
		}
		delete(current, "activeSession")
		released = true
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}
	if released {
		s.logger.WithFields(logrus.Fields{"uid": uid, "device": deviceID}).Info("session released")
	}
	return nil
}

func decodeSession(profile map[string]any) *models.ActiveSession {
	raw, ok := profile["activeSession"].(map[string]any)
	if !ok {
		return nil
	}
	deviceID := models.TextOf(raw["deviceId"])
	if deviceID == "" {
		return nil
	}
	return &models.ActiveSession{
		DeviceID:   deviceID,
		UserAgent:  models.TextOf(raw["userAgent"]),
		ClaimedAt:  models.FlexTime{Time: models.ParseTime(raw["claimedAt"])},
		LastSeenAt: models.FlexTime{Time: models.ParseTime(raw["lastSeenAt"])},
	}
}

func sessionData(session *models.ActiveSession) map[string]any {
	return map[string]any{
		"deviceId":   session.DeviceID,
		"userAgent":  session.UserAgent,
		"claimedAt":  session.ClaimedAt.UTC().Format(time.RFC3339Nano),
		"lastSeenAt": session.LastSeenAt.UTC().Format(time.RFC3339Nano),
	}
}
