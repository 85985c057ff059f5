package models

// ETA target kinds
const (
	TargetStop    = "stop"
	TargetOwnStop = "own_stop"
	TargetSchool  = "school"
	TargetArrival = "arrival"
)

// ETA target titles shown to users
const (
	TitleNextStop = "Siguiente paradero"
	TitleOwnStop  = "Llegada a tu paradero"
	TitleSchool   = "Llegada al colegio"
	TitleArrival  = "Llegada"
)

// ETA result sources
const (
	SourceRoutes    = "routes"
	SourceFallback  = "fallback"
	SourceNoTargets = "none"
)

// EtaRequest is the input of an ETA computation
type EtaRequest struct {
	Profile     *Profile
	Route       *ResolvedRoute
	Bus         LatLng
	Statuses    StatusMap
	Destination *LatLng
	ListView    bool
}

// EtaTarget is the next point of interest for the caller
type EtaTarget struct {
	Title           string   `json:"title"`
	Kind            string   `json:"kind"`
	StopKey         string   `json:"stopKey,omitempty"`
	DistanceMeters  *float64 `json:"distanceMeters"`
	DurationSeconds *float64 `json:"durationSeconds"`
	Minutes         *int     `json:"minutes"`
}

// StopEta is the per-stop row of an ETA result
type StopEta struct {
	Key             string   `json:"key"`
	Title           string   `json:"title"`
	Address         string   `json:"address,omitempty"`
	Order           int      `json:"order"`
	SourceIndex     int      `json:"sourceIndex"`
	DistanceMeters  *float64 `json:"distanceMeters"`
	DurationSeconds *float64 `json:"durationSeconds"`
	Minutes         *int     `json:"minutes"`
	Status          string   `json:"status,omitempty"`
	Excluded        bool     `json:"excluded"`
	Completed       bool     `json:"completed"`
}

// EtaResult is the output of an ETA computation
type EtaResult struct {
	RouteKey        string    `json:"routeKey"`
	RouteID         string    `json:"routeId"`
	Target          EtaTarget `json:"target"`
	Stops           []StopEta `json:"stops"`
	EncodedPolyline string    `json:"encodedPolyline,omitempty"`
	Source          string    `json:"source"`
	PickedUp        bool      `json:"pickedUp,omitempty"`
	Cached          bool      `json:"cached"`
}
