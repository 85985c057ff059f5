package models

import (
	"strings"
	"time"
)

// Stop status values written by monitors
const (
	StopStatusBoarded   = "boarded"
	StopStatusMissedBus = "missed_bus"
)

// StopStatusLabel maps a status to the label shown in the monitor list
var StopStatusLabel = map[string]string{
	StopStatusBoarded:   "Asistio",
	StopStatusMissedBus: "No asistio",
}

// IsAbsentStatus reports whether a status value marks the stop absent for the day
func IsAbsentStatus(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s == StopStatusMissedBus || s == "absent" || s == "true"
}

// ValidStopStatus reports whether status may be written; empty clears
func ValidStopStatus(status string) bool {
	return status == "" || status == StopStatusBoarded || status == StopStatusMissedBus
}

// DailyStopStatus is one {root}/{routeId}/daily/{date}/stops/{stopKey} entry
type DailyStopStatus struct {
	ID            string    `json:"id"`
	StopID        string    `json:"stopId,omitempty"`
	StopTitle     string    `json:"stopTitle,omitempty"`
	StopAddress   string    `json:"stopAddress,omitempty"`
	Status        string    `json:"status,omitempty"`
	Inasistencia  bool      `json:"inasistencia"`
	Justification string    `json:"justification,omitempty"`
	MonitorUID    string    `json:"monitorUid,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Source        string    `json:"source,omitempty"`
}

// IsAbsent reports whether the entry marks the stop absent
func (s *DailyStopStatus) IsAbsent() bool {
	if s == nil {
		return false
	}
	return s.Inasistencia || IsAbsentStatus(s.Status)
}

// IsBoarded reports whether the entry marks the stop boarded
func (s *DailyStopStatus) IsBoarded() bool {
	return s != nil && !s.IsAbsent() && strings.EqualFold(s.Status, StopStatusBoarded)
}

// StatusMap indexes daily statuses by normalized stop key
type StatusMap map[string]*DailyStopStatus
