package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// StatusLedger reads and writes the per-day stop status documents
// {root}/{routeId}/daily/{date}/stops/{stopKey}. Both roots are read and
// written; entries are merged with absence first, then latest update.
type StatusLedger struct {
	store  database.DocumentStore
	roots  []string
	clock  *utils.ServiceClock
	logger *logrus.Logger
}

// NewStatusLedger creates a new StatusLedger
func NewStatusLedger(store database.DocumentStore, roots []string, clock *utils.ServiceClock, logger *logrus.Logger) *StatusLedger {
	if len(roots) == 0 {
		roots = []string{"routes", "rutas"}
	}
	return &StatusLedger{store: store, roots: roots, clock: clock, logger: logger}
}

// StopMark is a monitor's status change for one stop
type StopMark struct {
	Monitor       *models.Profile
	RouteIDs      []string
	RouteName     string
	StopID        string
	StopTitle     string
	StopAddress   string
	Status        string // boarded, missed_bus, or empty to clear
	Justification string
}

// Key is the stop identity the mark is stored under
func (m StopMark) Key() string {
	return utils.StopKey(m.StopID, m.StopAddress, m.StopTitle)
}

// Today returns the service date key
func (l *StatusLedger) Today() string {
	return l.clock.Today()
}

// Snapshot merges every readable source of the day into one map
func (l *StatusLedger) Snapshot(ctx context.Context, date string, routeIDs []string) models.StatusMap {
	merged := make(models.StatusMap)
	for _, root := range l.roots {
		for _, routeID := range routeIDs {
			if routeID == "" {
				continue
			}
			collection := database.JoinPath(root, routeID, "daily", date, "stops")
			docs, err := l.store.List(ctx, collection, 0)
			if err != nil {
				l.logger.WithError(err).WithField("collection", collection).Debug("daily status read failed")
				continue
			}
			merged = MergeStatusMaps(merged, CreateStatusMap(docs, root))
		}
	}
	return merged
}

// StatusFor returns the merged status of one stop, or nil
func (l *StatusLedger) StatusFor(ctx context.Context, date string, routeIDs []string, stopKey string) *models.DailyStopStatus {
	return LookupStatus(l.Snapshot(ctx, date, routeIDs), stopKey)
}

// LookupStatus finds the first entry matching any of the keys
func LookupStatus(statuses models.StatusMap, keys ...string) *models.DailyStopStatus {
	for _, key := range keys {
		normalized := utils.NormalizeKeyPart(key)
		if normalized == "" {
			continue
		}
		if status, ok := statuses[normalized]; ok {
			return status
		}
	}
	return nil
}

// CreateStatusMap indexes documents under their primary key plus address and
// title aliases. Aliases never overwrite an existing key.
func CreateStatusMap(docs []database.Document, source string) models.StatusMap {
	result := make(models.StatusMap, len(docs))
	var aliases []struct {
		key    string
		status *models.DailyStopStatus
	}

	for _, doc := range docs {
		status := decodeDailyStatus(doc, source)
		id := status.StopID
		if id == "" {
			id = doc.ID
		}
		primary := utils.StopKey(id, status.StopAddress, status.StopTitle)
		if primary == "" {
			continue
		}
		result[primary] = status
		for _, alias := range []string{status.StopAddress, status.StopTitle} {
			if key := utils.NormalizeKeyPart(alias); key != "" && key != primary {
				aliases = append(aliases, struct {
					key    string
					status *models.DailyStopStatus
				}{key, status})
			}
		}
	}

	for _, alias := range aliases {
		if _, exists := result[alias.key]; !exists {
			result[alias.key] = alias.status
		}
	}
	return result
}

// MergeStatusMaps folds incoming into current: an absence beats a presence
// regardless of time, otherwise the later update wins and ties go to incoming.
func MergeStatusMaps(current, incoming models.StatusMap) models.StatusMap {
	if current == nil {
		current = make(models.StatusMap, len(incoming))
	}
	for key, in := range incoming {
		existing, ok := current[key]
		if !ok {
			current[key] = in
			continue
		}
		current[key] = mergeStatus(existing, in)
	}
	return current
}

func mergeStatus(current, incoming *models.DailyStopStatus) *models.DailyStopStatus {
	currentAbsent := current.IsAbsent()
	incomingAbsent := incoming.IsAbsent()
	switch {
	case currentAbsent && !incomingAbsent:
		return current
	case incomingAbsent && !currentAbsent:
		return incoming
	case !incoming.UpdatedAt.Before(current.UpdatedAt):
		return incoming
	default:
		return current
	}
}

func decodeDailyStatus(doc database.Document, source string) *models.DailyStopStatus {
	data := doc.Data
	inasistencia, _ := data["inasistencia"].(bool)
	return &models.DailyStopStatus{
		ID:            doc.ID,
		StopID:        models.TextOf(data["stopId"]),
		StopTitle:     models.TextOf(data["stopTitle"]),
		StopAddress:   models.TextOf(data["stopAddress"]),
		Status:        strings.ToLower(models.TextOf(data["status"])),
		Inasistencia:  inasistencia,
		Justification: models.TextOf(data["justification"]),
		MonitorUID:    models.TextOf(data["monitorUid"]),
		UpdatedAt:     models.ParseTime(data["updatedAt"]),
		Source:        source,
	}
}

// Mark writes the status under every root and route id, then updates the
// live excluded-stop list and the students' attendance. It fails only when
// no status write succeeded.
func (l *StatusLedger) Mark(ctx context.Context, mark StopMark) (*models.DailyStopStatus, error) {
	if !models.ValidStopStatus(mark.Status) {
		return nil, fmt.Errorf("%q: %w", mark.Status, ErrInvalidStatus)
	}
	key := mark.Key()
	if key == "" {
		return nil, fmt.Errorf("stop identity is required: %w", ErrInvalidStatus)
	}
	routeIDs := utils.Unique(mark.RouteIDs...)
	if len(routeIDs) == 0 {
		return nil, ErrMissingRoute
	}

	date := l.clock.Today()
	monitorUID := ""
	institutionCode := ""
	if mark.Monitor != nil {
		monitorUID = mark.Monitor.UID
		institutionCode = mark.Monitor.InstitutionCode.String()
	}

	data := map[string]any{
		"stopId":          mark.StopID,
		"stopTitle":       mark.StopTitle,
		"stopAddress":     mark.StopAddress,
		"status":          mark.Status,
		"inasistencia":    mark.Status == models.StopStatusMissedBus,
		"route":           mark.RouteName,
		"institutionCode": institutionCode,
		"monitorUid":      monitorUID,
		"updatedAt":       database.ServerTimestamp(),
	}
	if mark.Justification != "" {
		data["justification"] = mark.Justification
	} else {
		data["justification"] = database.DeleteField()
	}

	written := 0
	var lastErr error
	for _, root := range l.roots {
		for _, routeID := range routeIDs {
			path := database.JoinPath(root, routeID, "daily", date, "stops", key)
			var err error
			if mark.Status == "" {
				err = l.store.Delete(ctx, path)
			} else {
				err = l.store.Set(ctx, path, data, true)
			}
			if err != nil {
				lastErr = err
				l.logger.WithError(err).WithField("path", path).Warn("stop status write failed")
				continue
			}
			written++
		}
	}
	if written == 0 {
		return nil, fmt.Errorf("failed to persist stop status: %w", lastErr)
	}

	l.updateExcludedStops(ctx, routeIDs, monitorUID, mark.RouteName, key, mark.Status)
	l.syncAttendance(ctx, institutionCode, mark, date)

	l.logger.WithFields(logrus.Fields{
		"route":   routeIDs[0],
		"stop":    key,
		"status":  mark.Status,
		"monitor": monitorUID,
		"writes":  written,
	}).Info("stop status updated")

	return &models.DailyStopStatus{
		ID:            key,
		StopID:        mark.StopID,
		StopTitle:     mark.StopTitle,
		StopAddress:   mark.StopAddress,
		Status:        mark.Status,
		Inasistencia:  mark.Status == models.StopStatusMissedBus,
		Justification: mark.Justification,
		MonitorUID:    monitorUID,
		UpdatedAt:     l.clock.Now(),
	}, nil
}

func (l *StatusLedger) updateExcludedStops(ctx context.Context, routeIDs []string, monitorUID, route, key, status string) {
	excluded := database.ArrayRemove(key)
	if status == models.StopStatusMissedBus {
		excluded = database.ArrayUnion(key)
	}
	for _, routeID := range routeIDs {
		path := database.JoinPath("routes", routeID, "live", "current")
		err := l.store.Set(ctx, path, map[string]any{
			"uid":              monitorUID,
			"route":            route,
			"excludedStopKeys": excluded,
			"updatedAt":        database.ServerTimestamp(),
		}, true)
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Warn("excluded stops update failed")
		}
	}
}

// syncAttendance mirrors the mark into users/{uid}/asistencias/{date} for
// the students of the same institution and route registered at that stop.
func (l *StatusLedger) syncAttendance(ctx context.Context, institutionCode string, mark StopMark, date string) {
	stopAddress := utils.MatchText(mark.StopAddress)
	if institutionCode == "" || stopAddress == "" {
		return
	}
	docs, err := l.store.Where(ctx, "users", "institutionCode", institutionCode)
	if err != nil {
		l.logger.WithError(err).Warn("attendance sync: student query failed")
		return
	}

	routeID := utils.RouteID(mark.RouteName)
	for _, doc := range docs {
		var student models.Profile
		if err := doc.Decode(&student); err != nil || !student.IsStudent() {
			continue
		}
		if utils.MatchText(student.StopAddress.String()) != stopAddress {
			continue
		}
		if routeID != "" && utils.RouteID(student.Route.String()) != routeID {
			continue
		}

		path := database.JoinPath("users", doc.ID, "asistencias", date)
		if mark.Status == "" {
			err = l.store.Delete(ctx, path)
		} else {
			err = l.store.Set(ctx, path, map[string]any{
				"fechaYHora": database.ServerTimestamp(),
				"asistencia": mark.Status == models.StopStatusBoarded,
			}, true)
		}
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Warn("attendance sync write failed")
		}
	}
}
