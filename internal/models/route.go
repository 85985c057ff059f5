package models

// LatLng is a WGS84 coordinate
type LatLng struct {
	Lat float64 `json:"lat" binding:"min=-90,max=90"`
	Lng float64 `json:"lng" binding:"min=-180,max=180"`
}

// RouteStop is a normalized pickup point of a route
type RouteStop struct {
	ID      string  `json:"id"`
	Key     string  `json:"key"`
	Title   string  `json:"title"`
	Address string  `json:"address,omitempty"`
	Coords  *LatLng `json:"coords,omitempty"`
	Order   int     `json:"order"`
}

// ResolvedRoute is the outcome of resolving a profile's route stops
type ResolvedRoute struct {
	RouteKey   string      `json:"routeKey"`
	RouteID    string      `json:"routeId"`
	RouteName  string      `json:"routeName"`
	SourcePath string      `json:"sourcePath"`
	Stops      []RouteStop `json:"stops"`
}
