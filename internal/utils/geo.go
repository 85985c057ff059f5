package utils

import (
	"math"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLng*sinLng
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// ValidCoordinate reports whether lat/lng are finite and in range
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// SecondsAtSpeed estimates travel time for a distance at a constant speed
func SecondsAtSpeed(distanceMeters, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return 0
	}
	return distanceMeters / (speedKmh * 1000 / 3600)
}

// MinutesFromSeconds rounds to whole minutes, never below one
func MinutesFromSeconds(seconds float64) int {
	return int(math.Max(1, math.Round(seconds/60)))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
