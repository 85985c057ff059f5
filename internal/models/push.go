package models

import "time"

// Push sync event types
const (
	EventETAUpdate        = "eta_update"
	EventStopStatusUpdate = "stop_status_update"
)

// Notification kinds recorded in notification_receipts
const (
	NotificationETA15          = "eta15"
	NotificationETA5           = "eta5"
	NotificationPickedUp       = "picked_up"
	NotificationStopsRemaining = "stops_remaining"
)

// PushState is the per-day notification state of one student on one route
type PushState struct {
	ETA15Sent                  bool `json:"eta15Sent" db:"eta15_sent"`
	ETA5Sent                   bool `json:"eta5Sent" db:"eta5_sent"`
	PickedUpSent               bool `json:"pickedUpSent" db:"picked_up_sent"`
	LastStopsRemainingNotified *int `json:"lastStopsRemainingNotified,omitempty" db:"last_stops_remaining"`
}

// NotificationReceipt is one claimed notification
type NotificationReceipt struct {
	IdempotencyKey  string    `json:"idempotencyKey" db:"idempotency_key"`
	ID              string    `json:"id" db:"id"`
	DateKey         string    `json:"dateKey" db:"date_key"`
	RouteID         string    `json:"routeId" db:"route_id"`
	UID             string    `json:"uid" db:"uid"`
	Kind            string    `json:"kind" db:"kind"`
	StopsRemaining  *int      `json:"stopsRemaining,omitempty" db:"stops_remaining"`
	MonitorUID      string    `json:"monitorUid,omitempty" db:"monitor_uid"`
	InstitutionCode string    `json:"institutionCode,omitempty" db:"institution_code"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// SyncStop is one stop row sent by the monitor client
type SyncStop struct {
	ID          FlexString `json:"id"`
	Key         FlexString `json:"key"`
	Title       FlexString `json:"title"`
	Address     FlexString `json:"address"`
	Order       FlexFloat  `json:"order"`
	SourceIndex FlexFloat  `json:"sourceIndex"`
	Minutes     FlexFloat  `json:"minutes"`
	Status      FlexString `json:"status"`
	Excluded    bool       `json:"excluded"`
}

// SyncRequest is the body of POST /api/push/sync
type SyncRequest struct {
	EventType       string     `json:"eventType"`
	RouteID         string     `json:"routeId"`
	Route           string     `json:"route"`
	InstitutionCode string     `json:"institutionCode"`
	Stops           []SyncStop `json:"stops"`
	ChangedStop     *SyncStop  `json:"changedStop,omitempty"`
	BusCoords       *LatLng    `json:"busCoords,omitempty"`
}

// SyncDiagnostics explains why students were skipped
type SyncDiagnostics struct {
	Attempted     int    `json:"attempted"`
	NoToken       int    `json:"noToken"`
	FailedSend    int    `json:"failedSend"`
	NoTrigger     int    `json:"noTrigger"`
	UnmatchedStop int    `json:"unmatchedStop"`
	Duplicate     int    `json:"duplicate"`
	Reason        string `json:"reason,omitempty"`
}

// SyncResult is the response of a push sync
type SyncResult struct {
	OK          bool             `json:"ok"`
	Sent        int              `json:"sent"`
	Skipped     int              `json:"skipped"`
	Reason      string           `json:"reason,omitempty"`
	Suppressed  bool             `json:"suppressed,omitempty"`
	Diagnostics *SyncDiagnostics `json:"diagnostics,omitempty"`
}
