package services

import (
	"context"
	"errors"
	"strings"

	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// TrackingService ties route resolution, the status ledger, the ETA engine
// and the push dispatcher together for the HTTP layer
type TrackingService struct {
	profiles   *ProfileService
	resolver   *StopResolver
	ledger     *StatusLedger
	eta        *EtaEngine
	dispatcher *NotificationDispatcher
	logger     *logrus.Logger
}

// NewTrackingService creates a new TrackingService
func NewTrackingService(profiles *ProfileService, resolver *StopResolver, ledger *StatusLedger, eta *EtaEngine, dispatcher *NotificationDispatcher, logger *logrus.Logger) *TrackingService {
	return &TrackingService{
		profiles:   profiles,
		resolver:   resolver,
		ledger:     ledger,
		eta:        eta,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RouteView is the caller's route with the day's stop statuses
type RouteView struct {
	Route    *models.ResolvedRoute `json:"route"`
	RouteIDs []string              `json:"routeIds"`
	Date     string                `json:"date"`
	Statuses models.StatusMap      `json:"statuses"`
}

// StopStatusInput is a monitor's status change as received over HTTP
type StopStatusInput struct {
	StopID        string `json:"stopId"`
	StopTitle     string `json:"stopTitle"`
	StopAddress   string `json:"stopAddress"`
	Status        string `json:"status"`
	Justification string `json:"justification"`
}

// StopStatusOutcome is the stored status plus the push sync it triggered
type StopStatusOutcome struct {
	Status *models.DailyStopStatus `json:"status"`
	Push   *models.SyncResult      `json:"push,omitempty"`
}

// RouteView resolves the profile's route and reads the statuses of date.
// An empty date means today.
func (s *TrackingService) RouteView(ctx context.Context, profile *models.Profile, date string) (*RouteView, error) {
	resolved, err := s.resolver.Resolve(ctx, profile)
	if err != nil {
		return nil, err
	}
	if date == "" {
		date = s.ledger.Today()
	}
	routeIDs := s.resolver.RouteIDCandidates(resolved, profile)
	return &RouteView{
		Route:    resolved,
		RouteIDs: routeIDs,
		Date:     date,
		Statuses: s.ledger.Snapshot(ctx, date, routeIDs),
	}, nil
}

// Statuses returns the day's stop statuses of the profile's route. Statuses
// are still read when the stops themselves cannot be resolved.
func (s *TrackingService) Statuses(ctx context.Context, profile *models.Profile, date string) (*RouteView, error) {
	view, err := s.RouteView(ctx, profile, date)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, ErrRouteNotFound) {
		return nil, err
	}
	routeIDs := s.resolver.RouteIDCandidates(nil, profile)
	if len(routeIDs) == 0 {
		return nil, err
	}
	if date == "" {
		date = s.ledger.Today()
	}
	return &RouteView{
		RouteIDs: routeIDs,
		Date:     date,
		Statuses: s.ledger.Snapshot(ctx, date, routeIDs),
	}, nil
}

// RouteIDs returns the route document ids of the profile, falling back to
// the id of the profile's route name when no stops resolve
func (s *TrackingService) RouteIDs(ctx context.Context, profile *models.Profile) []string {
	resolved, err := s.resolver.Resolve(ctx, profile)
	if err != nil && !errors.Is(err, ErrRouteNotFound) {
		s.logger.WithError(err).WithField("uid", profile.UID).Debug("route resolution failed")
	}
	return s.resolver.RouteIDCandidates(resolved, profile)
}

// MarkStop records a monitor's stop status and notifies the students of the
// route about the change
func (s *TrackingService) MarkStop(ctx context.Context, monitor *models.Profile, input StopStatusInput) (*StopStatusOutcome, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	resolved, resolveErr := s.resolver.Resolve(ctx, monitor)
	if resolveErr != nil && !errors.Is(resolveErr, ErrRouteNotFound) {
		s.logger.WithError(resolveErr).WithField("uid", monitor.UID).Warn("route resolution failed before stop mark")
	}

	stored, err := s.ledger.Mark(ctx, StopMark{
		Monitor:       monitor,
		RouteIDs:      s.resolver.RouteIDCandidates(resolved, monitor),
		RouteName:     monitor.Route.String(),
		StopID:        input.StopID,
		StopTitle:     input.StopTitle,
		StopAddress:   input.StopAddress,
		Status:        status,
		Justification: strings.TrimSpace(input.Justification),
	})
	if err != nil {
		return nil, err
	}

	outcome := &StopStatusOutcome{Status: stored}
	if resolved == nil || status == "" || s.dispatcher == nil {
		return outcome, nil
	}

	statuses := s.ledger.Snapshot(ctx, s.ledger.Today(), s.resolver.RouteIDCandidates(resolved, monitor))
	changed := models.SyncStop{
		ID:      models.FlexString(input.StopID),
		Title:   models.FlexString(input.StopTitle),
		Address: models.FlexString(input.StopAddress),
		Status:  models.FlexString(status),
	}
	result, err := s.dispatcher.Sync(ctx, monitor, models.SyncRequest{
		EventType:   models.EventStopStatusUpdate,
		RouteID:     resolved.RouteID,
		Stops:       syncStopsFromRoute(resolved.Stops, statuses),
		ChangedStop: &changed,
	})
	if err != nil {
		s.logger.WithError(err).WithField("route", resolved.RouteID).Warn("stop status push sync failed")
		return outcome, nil
	}
	outcome.Push = result
	return outcome, nil
}

// Eta computes the caller's ETA from the bus position. Fresh monitor
// results also run the ETA push sync for the route's students.
func (s *TrackingService) Eta(ctx context.Context, profile *models.Profile, bus models.LatLng, listView bool) (*models.EtaResult, error) {
	resolved, err := s.resolver.Resolve(ctx, profile)
	if err != nil {
		return nil, err
	}
	routeIDs := s.resolver.RouteIDCandidates(resolved, profile)
	result, err := s.eta.Compute(ctx, models.EtaRequest{
		Profile:     profile,
		Route:       resolved,
		Bus:         bus,
		Statuses:    s.ledger.Snapshot(ctx, s.ledger.Today(), routeIDs),
		Destination: s.profiles.SchoolCoords(ctx, profile),
		ListView:    listView,
	})
	if err != nil {
		return nil, err
	}

	if profile.IsMonitor() && !result.Cached && s.dispatcher != nil {
		busCoords := bus
		sync, err := s.dispatcher.Sync(ctx, profile, models.SyncRequest{
			EventType: models.EventETAUpdate,
			RouteID:   result.RouteID,
			Stops:     syncStopsFromEta(result.Stops),
			BusCoords: &busCoords,
		})
		if err != nil {
			s.logger.WithError(err).WithField("route", result.RouteID).Warn("eta push sync failed")
		} else if sync.Sent > 0 {
			s.logger.WithFields(logrus.Fields{"route": result.RouteID, "sent": sync.Sent}).Info("eta notifications sent")
		}
	}
	return result, nil
}

func syncStopsFromEta(rows []models.StopEta) []models.SyncStop {
	stops := make([]models.SyncStop, 0, len(rows))
	for _, row := range rows {
		stop := models.SyncStop{
			ID:       models.FlexString(row.Key),
			Title:    models.FlexString(row.Title),
			Address:  models.FlexString(row.Address),
			Order:    models.NewFlexFloat(float64(row.Order)),
			Status:   models.FlexString(row.Status),
			Excluded: row.Excluded,
		}
		if row.Minutes != nil && !row.Completed {
			stop.Minutes = models.NewFlexFloat(float64(*row.Minutes))
		}
		stops = append(stops, stop)
	}
	return stops
}

func syncStopsFromRoute(routeStops []models.RouteStop, statuses models.StatusMap) []models.SyncStop {
	stops := make([]models.SyncStop, 0, len(routeStops))
	for _, rs := range routeStops {
		stop := models.SyncStop{
			ID:      models.FlexString(rs.Key),
			Title:   models.FlexString(rs.Title),
			Address: models.FlexString(rs.Address),
			Order:   models.NewFlexFloat(float64(rs.Order)),
		}
		if status := LookupStatus(statuses, rs.Key, rs.Address, rs.Title); status != nil {
			stop.Status = models.FlexString(status.Status)
			stop.Excluded = status.IsAbsent()
		}
		stops = append(stops, stop)
	}
	return stops
}
