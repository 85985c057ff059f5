package models

import "time"

// LiveBusPosition is the routes/{routeId}/live/current document
type LiveBusPosition struct {
	RouteID          string     `json:"routeId"`
	UID              FlexString `json:"uid"`
	Route            FlexString `json:"route"`
	Lat              FlexFloat  `json:"lat"`
	Lng              FlexFloat  `json:"lng"`
	ExcludedStopKeys []string   `json:"excludedStopKeys"`
	UpdatedAt        FlexTime   `json:"updatedAt"`
}

// HasCoords reports whether the position carries a usable coordinate
func (p *LiveBusPosition) HasCoords() bool {
	return p != nil && p.Lat.Valid && p.Lng.Valid
}

// Coords returns the coordinate; callers check HasCoords first
func (p *LiveBusPosition) Coords() LatLng {
	return LatLng{Lat: p.Lat.Value, Lng: p.Lng.Value}
}

// PositionEvent is published on NATS for each accepted upload
type PositionEvent struct {
	RouteID    string    `json:"routeId"`
	MonitorUID string    `json:"monitorUid"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recordedAt"`
}
