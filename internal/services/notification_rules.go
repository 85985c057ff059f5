package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
)

// ETA thresholds in minutes
const (
	etaNearMinutes = 5
	etaFarMinutes  = 15
)

// Skip reasons reported in sync diagnostics
const (
	skipNoToken       = "no_token"
	skipFailedSend    = "failed_send"
	skipNoTrigger     = "no_trigger"
	skipUnmatchedStop = "unmatched_stop"
	skipDuplicate     = "duplicate"
)

// SyncStopView is a client stop row after normalization
type SyncStopView struct {
	Key      string
	Title    string
	Address  string
	Order    float64
	Minutes  *float64
	Status   string
	Excluded bool
}

// IsAbsent reports whether the row marks the stop as missed
func (s *SyncStopView) IsAbsent() bool {
	return s != nil && (s.Excluded || models.IsAbsentStatus(s.Status))
}

// IsBoarded reports whether the row marks the stop as boarded
func (s *SyncStopView) IsBoarded() bool {
	return s != nil && strings.EqualFold(s.Status, models.StopStatusBoarded)
}

// Notification is a push decided for one student
type Notification struct {
	Kind           string
	Body           string
	StopsRemaining *int
	// Kinds claimed together with Kind; an eta5 also settles eta15
	Implies []string
}

// BuildSyncStops normalizes the client rows and sorts them by route order.
// The order is the explicit order, else the source index, else the position.
func BuildSyncStops(items []models.SyncStop) []SyncStopView {
	stops := make([]SyncStopView, 0, len(items))
	for i, item := range items {
		id := item.ID.String()
		if id == "" {
			id = item.Key.String()
		}
		key := utils.StopKey(id, item.Address.String(), item.Title.String())
		if key == "" {
			key = fmt.Sprintf("paradero-%d", i+1)
		}

		order := float64(i)
		if item.Order.Valid {
			order = math.Round(item.Order.Value)
		} else if item.SourceIndex.Valid {
			order = math.Round(item.SourceIndex.Value)
		}

		view := SyncStopView{
			Key:      key,
			Title:    item.Title.String(),
			Address:  item.Address.String(),
			Order:    order,
			Status:   strings.ToLower(item.Status.String()),
			Excluded: item.Excluded,
		}
		if item.Minutes.Valid {
			minutes := math.Round(item.Minutes.Value)
			view.Minutes = &minutes
		}
		stops = append(stops, view)
	}
	sort.SliceStable(stops, func(a, b int) bool { return stops[a].Order < stops[b].Order })
	return stops
}

// FindChangedStop locates the changed stop by key, else by address or title
func FindChangedStop(stops []SyncStopView, changed *models.SyncStop) *SyncStopView {
	if changed == nil {
		return nil
	}
	id := changed.ID.String()
	if id == "" {
		id = changed.Key.String()
	}
	key := utils.StopKey(id, changed.Address.String(), changed.Title.String())
	for i := range stops {
		if key != "" && stops[i].Key == key {
			return withStatus(&stops[i], changed.Status.String())
		}
	}

	address := utils.MatchText(changed.Address.String())
	title := utils.MatchText(changed.Title.String())
	for i := range stops {
		if (address != "" && utils.MatchText(stops[i].Address) == address) ||
			(title != "" && utils.MatchText(stops[i].Title) == title) {
			return withStatus(&stops[i], changed.Status.String())
		}
	}
	return nil
}

func withStatus(stop *SyncStopView, status string) *SyncStopView {
	copied := *stop
	if s := strings.ToLower(strings.TrimSpace(status)); s != "" {
		copied.Status = s
	}
	return &copied
}

// ResolveStudentStop matches a student to a stop: equal address or title
// (also on the first comma segment of the address), then containment of the
// address either way, or of the segment against the stop address or title.
func ResolveStudentStop(stops []SyncStopView, student *models.Profile) *SyncStopView {
	address := student.StopAddress.String()
	full := utils.MatchText(address)
	if full == "" {
		return nil
	}
	segment := utils.MatchText(utils.FirstAddressSegment(address))

	for i := range stops {
		stopAddress := utils.MatchText(stops[i].Address)
		stopTitle := utils.MatchText(stops[i].Title)
		for _, candidate := range []string{full, segment} {
			if candidate != "" && (candidate == stopAddress || candidate == stopTitle) {
				return &stops[i]
			}
		}
		if segment != "" && utils.MatchText(utils.FirstAddressSegment(stops[i].Address)) == segment {
			return &stops[i]
		}
	}

	for i := range stops {
		stopAddress := utils.MatchText(stops[i].Address)
		stopTitle := utils.MatchText(stops[i].Title)
		if overlaps(stopAddress, full) {
			return &stops[i]
		}
		if segment != "" && (overlaps(stopAddress, segment) || overlaps(stopTitle, segment)) {
			return &stops[i]
		}
	}
	return nil
}

// overlaps reports whether either non-empty text contains the other
func overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// EvaluateETA decides the ETA push for a student's stop. Within 5 minutes
// the near message also settles the 15-minute one.
func EvaluateETA(stop *SyncStopView, absent, boarded bool, state models.PushState, name string) *Notification {
	if stop == nil || stop.Minutes == nil || absent || boarded {
		return nil
	}
	minutes := *stop.Minutes
	if math.IsNaN(minutes) || minutes < 0 {
		return nil
	}
	if minutes <= etaNearMinutes && !state.ETA5Sent {
		return &Notification{
			Kind:    models.NotificationETA5,
			Body:    etaMessage(name, etaNearMinutes),
			Implies: []string{models.NotificationETA15},
		}
	}
	if minutes <= etaFarMinutes && !state.ETA15Sent {
		return &Notification{
			Kind: models.NotificationETA15,
			Body: etaMessage(name, etaFarMinutes),
		}
	}
	return nil
}

// EvaluateStopStatus decides the boarding push for a student. A boarded
// change at the student's own stop sends the picked-up message once; a
// boarded change earlier in the route sends the stops-away count when it
// dropped below the last one notified.
func EvaluateStopStatus(changed, own *SyncStopView, absent, boarded bool, state models.PushState, name string) *Notification {
	if changed == nil || own == nil || !changed.IsBoarded() || absent {
		return nil
	}
	if changed.Key == own.Key {
		if state.PickedUpSent {
			return nil
		}
		return &Notification{Kind: models.NotificationPickedUp, Body: pickedUpMessage(name)}
	}
	if boarded || own.Order <= changed.Order {
		return nil
	}
	remaining := int(math.Round(own.Order - changed.Order))
	if remaining < 1 {
		return nil
	}
	if last := state.LastStopsRemainingNotified; last != nil && remaining >= *last {
		return nil
	}
	return &Notification{
		Kind:           models.NotificationStopsRemaining,
		Body:           stopsRemainingMessage(name, remaining),
		StopsRemaining: &remaining,
	}
}

// IdempotencyKey is date:route:uid:kind, with :n for stops remaining
func IdempotencyKey(date, routeID, uid, kind string, stopsRemaining *int) string {
	key := strings.Join([]string{date, routeID, uid, kind}, ":")
	if stopsRemaining != nil {
		key += ":" + strconv.Itoa(*stopsRemaining)
	}
	return key
}

func etaMessage(name string, minutes int) string {
	return fmt.Sprintf("%s, faltan aproximadamente %d minutos para llegar por ti! ;)", name, minutes)
}

func pickedUpMessage(name string) string {
	return fmt.Sprintf("%s ya esta en la ruta; En camino al colegio! :)", name)
}

func stopsRemainingMessage(name string, n int) string {
	unit := "paradas"
	if n == 1 {
		unit = "parada"
	}
	return fmt.Sprintf("%s, estamos a %d %s de llegar por ti! :)", name, n, unit)
}
