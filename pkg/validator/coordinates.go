package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingCoordinate indicates lat or lng is absent
	ErrMissingCoordinate = errors.New("coordinate is required")

	// ErrInvalidCoordinate indicates lat or lng is not a finite number
	ErrInvalidCoordinate = errors.New("coordinate must be a finite number")

	// ErrOutOfRange indicates lat is outside [-90, 90] or lng outside [-180, 180]
	ErrOutOfRange = errors.New("coordinate out of range")

	// ErrTooFewPoints indicates a route request with fewer than two points
	ErrTooFewPoints = errors.New("at least two points required")
)

// Point is a validated coordinate pair
type Point struct {
	Lat float64
	Lng float64
}

// CoordinateValidator validates coordinates sent by clients
type CoordinateValidator struct{}

// NewCoordinateValidator creates a new coordinate validator instance
func NewCoordinateValidator() *CoordinateValidator {
	return &CoordinateValidator{}
}

// Validate checks a lat/lng pair given as JSON numbers or numeric strings
func (v *CoordinateValidator) Validate(lat, lng any) (Point, error) {
	latValue, err := v.parse(lat)
	if err != nil {
		return Point{}, fmt.Errorf("lat: %w", err)
	}
	lngValue, err := v.parse(lng)
	if err != nil {
		return Point{}, fmt.Errorf("lng: %w", err)
	}
	if latValue < -90 || latValue > 90 || lngValue < -180 || lngValue > 180 {
		return Point{}, ErrOutOfRange
	}
	return Point{Lat: latValue, Lng: lngValue}, nil
}

// ValidatePoints checks a list of {lat, lng} objects; the index of the first bad point is reported
func (v *CoordinateValidator) ValidatePoints(points []map[string]any) ([]Point, error) {
	if len(points) < 2 {
		return nil, ErrTooFewPoints
	}
	result := make([]Point, 0, len(points))
	for i, raw := range points {
		p, err := v.Validate(raw["lat"], raw["lng"])
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		result = append(result, p)
	}
	return result, nil
}

// IsValid is a convenience method that returns true if the pair is valid
func (v *CoordinateValidator) IsValid(lat, lng any) bool {
	_, err := v.Validate(lat, lng)
	return err == nil
}

func (v *CoordinateValidator) parse(value any) (float64, error) {
	var parsed float64
	switch val := value.(type) {
	case nil:
		return 0, ErrMissingCoordinate
	case float64:
		parsed = val
	case float32:
		parsed = float64(val)
	case int:
		parsed = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, ErrInvalidCoordinate
		}
		parsed = f
	case string:
		text := strings.TrimSpace(val)
		if text == "" {
			return 0, ErrMissingCoordinate
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, ErrInvalidCoordinate
		}
		parsed = f
	default:
		return 0, ErrInvalidCoordinate
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, ErrInvalidCoordinate
	}
	return parsed, nil
}
