package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/publisher"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

const liveRoutesCollection = "liveRoutes"

// LivePositionService stores monitor positions in routes/{routeId}/live/current
type LivePositionService struct {
	store     database.DocumentStore
	limiter   *RateLimitService
	publisher publisher.PositionPublisher
	clock     *utils.ServiceClock
	metrics   *metrics.Collector
	logger    *logrus.Logger
}

// NewLivePositionService creates a new LivePositionService
func NewLivePositionService(store database.DocumentStore, limiter *RateLimitService, pub publisher.PositionPublisher, clock *utils.ServiceClock, m *metrics.Collector, logger *logrus.Logger) *LivePositionService {
	if pub == nil {
		pub = publisher.NoopPublisher{}
	}
	return &LivePositionService{store: store, limiter: limiter, publisher: pub, clock: clock, metrics: m, logger: logger}
}

// Upload records a monitor position under each route id candidate.
// Uploads closer together than the throttle interval return a RateLimitError.
func (s *LivePositionService) Upload(ctx context.Context, monitor *models.Profile, routeIDs []string, position models.LatLng) (*models.LiveBusPosition, error) {
	if !utils.ValidCoordinate(position.Lat, position.Lng) {
		return nil, ErrInvalidCoordinates
	}
	routeIDs = utils.Unique(routeIDs...)
	if len(routeIDs) == 0 {
		return nil, ErrMissingRoute
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(monitor.UID); err != nil {
			s.metrics.LiveUpload("throttled")
			return nil, err
		}
	}

	now := s.clock.Now()
	data := map[string]any{
		"uid":       monitor.UID,
		"route":     monitor.Route.String(),
		"lat":       position.Lat,
		"lng":       position.Lng,
		"updatedAt": database.ServerTimestamp(),
	}

	written := 0
	var lastErr error
	for _, routeID := range routeIDs {
		path := database.JoinPath("routes", routeID, "live", "current")
		if err := s.store.Set(ctx, path, data, true); err != nil {
			lastErr = err
			s.logger.WithError(err).WithField("path", path).Warn("live position write failed")
			continue
		}
		written++
		if err := s.store.Set(ctx, database.JoinPath(liveRoutesCollection, routeID), map[string]any{
			"routeId":   routeID,
			"updatedAt": database.ServerTimestamp(),
		}, true); err != nil {
			s.logger.WithError(err).WithField("route", routeID).Debug("live route index write failed")
		}
	}
	if written == 0 {
		s.metrics.LiveUpload("error")
		return nil, fmt.Errorf("failed to store live position: %w", lastErr)
	}
	s.metrics.LiveUpload("accepted")

	event := models.PositionEvent{
		RouteID:    routeIDs[0],
		MonitorUID: monitor.UID,
		Lat:        position.Lat,
		Lng:        position.Lng,
		RecordedAt: now,
	}
	if err := s.publisher.PublishPosition(event); err != nil {
		s.logger.WithError(err).WithField("route", event.RouteID).Warn("position fan-out failed")
	}

	return &models.LiveBusPosition{
		RouteID:   routeIDs[0],
		UID:       models.FlexString(monitor.UID),
		Route:     monitor.Route,
		Lat:       models.NewFlexFloat(position.Lat),
		Lng:       models.NewFlexFloat(position.Lng),
		UpdatedAt: models.FlexTime{Time: now},
	}, nil
}

// Current returns the first stored position among the route id candidates
func (s *LivePositionService) Current(ctx context.Context, routeIDs ...string) (*models.LiveBusPosition, error) {
	var lastErr error
	for _, routeID := range utils.Unique(routeIDs...) {
		doc, err := s.store.Get(ctx, database.JoinPath("routes", routeID, "live", "current"))
		if err != nil {
			lastErr = err
			continue
		}
		if doc == nil {
			continue
		}
		var position models.LiveBusPosition
		if err := doc.Decode(&position); err != nil {
			lastErr = err
			continue
		}
		position.RouteID = routeID
		if !position.HasCoords() {
			continue
		}
		return &position, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to read live position: %w", errors.Join(lastErr, ErrLivePositionMissing))
	}
	return nil, ErrLivePositionMissing
}

// ActivePositions returns the positions updated within maxAge
func (s *LivePositionService) ActivePositions(ctx context.Context, maxAge time.Duration) ([]models.LiveBusPosition, error) {
	docs, err := s.store.List(ctx, liveRoutesCollection, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list live routes: %w", err)
	}
	now := s.clock.Now()
	positions := make([]models.LiveBusPosition, 0, len(docs))
	for _, doc := range docs {
		position, err := s.Current(ctx, doc.ID)
		if err != nil {
			continue
		}
		if maxAge > 0 && (position.UpdatedAt.IsZero() || now.Sub(position.UpdatedAt.Time) > maxAge) {
			continue
		}
		positions = append(positions, *position)
	}
	return positions, nil
}
