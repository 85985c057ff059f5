package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/schoolways/bus-tracker-backend/pkg/push"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NotificationDispatcher decides and delivers student pushes for monitor
// updates. Each notification is claimed in the receipts table before it is
// sent, so it goes out at most once per student, route and service day.
type NotificationDispatcher struct {
	store    database.DocumentStore
	receipts database.ReceiptStore
	gateway  push.Gateway
	ledger   *StatusLedger
	tokens   *PushTokenService
	clock    *utils.ServiceClock
	cfg      config.PushConfig

	mu     sync.Mutex
	recent map[string]time.Time

	metrics *metrics.Collector
	logger  *logrus.Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher
func NewNotificationDispatcher(
	store database.DocumentStore,
	receipts database.ReceiptStore,
	gateway push.Gateway,
	ledger *StatusLedger,
	tokens *PushTokenService,
	clock *utils.ServiceClock,
	cfg config.PushConfig,
	m *metrics.Collector,
	logger *logrus.Logger,
) *NotificationDispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.Title == "" {
		cfg.Title = "SchoolWays"
	}
	return &NotificationDispatcher{
		store:    store,
		receipts: receipts,
		gateway:  gateway,
		ledger:   ledger,
		tokens:   tokens,
		clock:    clock,
		cfg:      cfg,
		recent:   make(map[string]time.Time),
		metrics:  m,
		logger:   logger,
	}
}

type studentOutcome struct {
	sent   bool
	reason string
}

type syncContext struct {
	date     string
	routeID  string
	monitor  string
	inst     string
	event    string
	stops    []SyncStopView
	changed  *SyncStopView
	statuses models.StatusMap
	states   map[string]models.PushState
}

// Sync evaluates every student of the monitor's institution and route
func (d *NotificationDispatcher) Sync(ctx context.Context, monitor *models.Profile, req models.SyncRequest) (*models.SyncResult, error) {
	if req.EventType != models.EventETAUpdate && req.EventType != models.EventStopStatusUpdate {
		return nil, fmt.Errorf("%q: %w", req.EventType, ErrInvalidEventType)
	}

	routeName := req.RouteID
	if routeName == "" {
		routeName = req.Route
	}
	if routeName == "" && monitor != nil {
		routeName = monitor.Route.String()
	}
	routeID := utils.RouteID(routeName)
	if routeID == "" {
		return nil, ErrMissingRoute
	}

	institutionCode := ""
	if monitor != nil {
		institutionCode = monitor.InstitutionCode.String()
	}
	if institutionCode == "" {
		institutionCode = strings.TrimSpace(req.InstitutionCode)
	}
	if institutionCode == "" {
		return nil, ErrMissingInstitution
	}

	stops := BuildSyncStops(req.Stops)
	if len(stops) == 0 {
		return &models.SyncResult{OK: true, Reason: "Sin paraderos para evaluar"}, nil
	}

	var changed *SyncStopView
	if req.EventType == models.EventStopStatusUpdate {
		changed = FindChangedStop(stops, req.ChangedStop)
	}

	signature := syncSignature(routeID, req.EventType, stops, changed)
	if d.recentlySynced(signature) {
		return &models.SyncResult{OK: true, Suppressed: true, Reason: "Sincronizacion reciente"}, nil
	}

	sc := &syncContext{
		date:    d.clock.Today(),
		routeID: routeID,
		inst:    institutionCode,
		event:   req.EventType,
		stops:   stops,
		changed: changed,
	}
	if monitor != nil {
		sc.monitor = monitor.UID
	}

	students, err := d.loadStudents(ctx, institutionCode, routeID)
	if err != nil {
		d.forget(signature)
		return nil, err
	}
	if len(students) == 0 {
		return &models.SyncResult{OK: true, Reason: "Sin estudiantes en la ruta", Diagnostics: &models.SyncDiagnostics{}}, nil
	}

	uids := make([]string, 0, len(students))
	for _, s := range students {
		uids = append(uids, s.UID)
	}
	sc.statuses = d.ledger.Snapshot(ctx, sc.date, []string{routeID})
	sc.states, err = d.receipts.States(ctx, sc.date, routeID, uids)
	if err != nil {
		d.forget(signature)
		return nil, fmt.Errorf("failed to load push state: %w", err)
	}

	var (
		outcomeMu   sync.Mutex
		result      = &models.SyncResult{OK: true}
		diagnostics = &models.SyncDiagnostics{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)
	for _, student := range students {
		g.Go(func() error {
			outcome := d.processStudent(gctx, sc, student)

			outcomeMu.Lock()
			defer outcomeMu.Unlock()
			diagnostics.Attempted++
			if outcome.sent {
				result.Sent++
				return nil
			}
			result.Skipped++
			d.metrics.PushSkippedReason(outcome.reason)
			switch outcome.reason {
			case skipNoToken:
				diagnostics.NoToken++
			case skipFailedSend:
				diagnostics.FailedSend++
			case skipUnmatchedStop:
				diagnostics.UnmatchedStop++
			case skipDuplicate:
				diagnostics.Duplicate++
			default:
				diagnostics.NoTrigger++
			}
			return nil
		})
	}
	_ = g.Wait()

	// nothing delivered: let an identical retry through the debounce
	if result.Sent == 0 && diagnostics.FailedSend > 0 {
		d.forget(signature)
	}

	result.Diagnostics = diagnostics
	d.logger.WithFields(logrus.Fields{
		"route":     routeID,
		"event":     req.EventType,
		"monitor":   sc.monitor,
		"students":  len(students),
		"sent":      result.Sent,
		"skipped":   result.Skipped,
		"no_token":  diagnostics.NoToken,
		"failed":    diagnostics.FailedSend,
		"unmatched": diagnostics.UnmatchedStop,
	}).Info("push sync completed")
	return result, nil
}

func (d *NotificationDispatcher) processStudent(ctx context.Context, sc *syncContext, student *models.Profile) studentOutcome {
	own := ResolveStudentStop(sc.stops, student)
	if own == nil {
		return studentOutcome{reason: skipUnmatchedStop}
	}

	ledgerStatus := LookupStatus(sc.statuses, own.Key, own.Address, own.Title)
	absent := own.IsAbsent() || ledgerStatus.IsAbsent()
	boarded := own.IsBoarded() || ledgerStatus.IsBoarded()
	state := sc.states[student.UID]
	name := student.DisplayNameOrDefault()

	var notification *Notification
	if sc.event == models.EventETAUpdate {
		notification = EvaluateETA(own, absent, boarded, state, name)
	} else {
		notification = EvaluateStopStatus(sc.changed, own, absent, boarded, state, name)
	}
	if notification == nil {
		return studentOutcome{reason: skipNoTrigger}
	}

	tokens := student.PushTokens()
	if len(tokens) == 0 {
		return studentOutcome{reason: skipNoToken}
	}

	claimed, err := d.receipts.Claim(ctx, d.receiptsFor(sc, student.UID, notification)...)
	if err != nil {
		d.logger.WithError(err).WithField("uid", student.UID).Warn("failed to claim notification")
		return studentOutcome{reason: skipFailedSend}
	}
	if len(claimed) == 0 {
		return studentOutcome{reason: skipDuplicate}
	}

	sendResult, err := d.gateway.SendMulticast(ctx, push.Message{
		Tokens: tokens,
		Data: map[string]string{
			"title":   d.cfg.Title,
			"body":    notification.Body,
			"routeId": sc.routeID,
			"kind":    "student-route-update",
		},
		Link: d.cfg.ClickLink,
	})

	if stale := sendResult.InvalidTokens(); len(stale) > 0 {
		if cleanupErr := d.tokens.RemoveTokens(ctx, student.UID, stale); cleanupErr != nil {
			d.logger.WithError(cleanupErr).WithField("uid", student.UID).Warn("token cleanup failed")
		}
	}

	if err != nil || sendResult == nil || sendResult.SuccessCount == 0 {
		if releaseErr := d.receipts.Release(context.WithoutCancel(ctx), claimed...); releaseErr != nil {
			d.logger.WithError(releaseErr).WithField("uid", student.UID).Error("failed to release notification claim")
		}
		fields := logrus.Fields{"uid": student.UID, "kind": notification.Kind, "gateway": d.gateway.GetName()}
		if err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("push delivery failed")
		} else {
			d.logger.WithFields(fields).Warn("push delivered to no device")
		}
		return studentOutcome{reason: skipFailedSend}
	}

	d.metrics.PushDelivered(notification.Kind)
	return studentOutcome{sent: true}
}

// receiptsFor lists the receipts to claim, primary first
func (d *NotificationDispatcher) receiptsFor(sc *syncContext, uid string, n *Notification) []models.NotificationReceipt {
	kinds := append([]string{n.Kind}, n.Implies...)
	receipts := make([]models.NotificationReceipt, 0, len(kinds))
	for i, kind := range kinds {
		var remaining *int
		if i == 0 {
			remaining = n.StopsRemaining
		}
		receipts = append(receipts, models.NotificationReceipt{
			IdempotencyKey:  IdempotencyKey(sc.date, sc.routeID, uid, kind, remaining),
			DateKey:         sc.date,
			RouteID:         sc.routeID,
			UID:             uid,
			Kind:            kind,
			StopsRemaining:  remaining,
			MonitorUID:      sc.monitor,
			InstitutionCode: sc.inst,
		})
	}
	return receipts
}

func (d *NotificationDispatcher) loadStudents(ctx context.Context, institutionCode, routeID string) ([]*models.Profile, error) {
	docs, err := d.store.Where(ctx, "users", "institutionCode", institutionCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	students := make([]*models.Profile, 0, len(docs))
	for _, doc := range docs {
		var profile models.Profile
		if err := doc.Decode(&profile); err != nil {
			d.logger.WithError(err).WithField("path", doc.Path).Debug("skipping undecodable profile")
			continue
		}
		profile.UID = doc.ID
		if !profile.IsStudent() {
			continue
		}
		if utils.RouteID(profile.Route.String()) != routeID {
			continue
		}
		students = append(students, &profile)
	}
	return students, nil
}

// recentlySynced reports whether the same sync ran within the debounce
// window and records this one otherwise
func (d *NotificationDispatcher) recentlySynced(signature string) bool {
	if d.cfg.SyncDebounce <= 0 {
		return false
	}
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for sig, at := range d.recent {
		if now.Sub(at) >= d.cfg.SyncDebounce {
			delete(d.recent, sig)
		}
	}
	if at, ok := d.recent[signature]; ok && now.Sub(at) < d.cfg.SyncDebounce {
		return true
	}
	d.recent[signature] = now
	return false
}

func (d *NotificationDispatcher) forget(signature string) {
	d.mu.Lock()
	delete(d.recent, signature)
	d.mu.Unlock()
}

func syncSignature(routeID, event string, stops []SyncStopView, changed *SyncStopView) string {
	var b strings.Builder
	b.WriteString(routeID + "|" + event)
	for _, s := range stops {
		minutes := "-"
		if s.Minutes != nil {
			minutes = fmt.Sprintf("%.0f", *s.Minutes)
		}
		fmt.Fprintf(&b, "|%s:%s:%s:%t", s.Key, minutes, s.Status, s.Excluded)
	}
	if changed != nil {
		fmt.Fprintf(&b, "|changed=%s:%s", changed.Key, changed.Status)
	}
	return b.String()
}
