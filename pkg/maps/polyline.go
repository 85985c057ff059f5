package maps

import (
	"fmt"
	"math"
	"strings"
)

// LatLng is a coordinate pair
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

const polylinePrecision = 1e5

// EncodePolyline encodes points with the Encoded Polyline Algorithm Format (precision 5)
func EncodePolyline(points []LatLng) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * polylinePrecision))
		lng := int64(math.Round(p.Lng * polylinePrecision))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, value int64) {
	v := value << 1
	if value < 0 {
		v = ^v
	}
	for v >= 0x20 {
		b.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	b.WriteByte(byte(v + 63))
}

// DecodePolyline decodes an encoded polyline string
func DecodePolyline(encoded string) ([]LatLng, error) {
	var points []LatLng
	var lat, lng int64
	index := 0
	for index < len(encoded) {
		dLat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += dLat
		lng += dLng
		points = append(points, LatLng{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return points, nil
}

func decodeValue(encoded string, index int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if index >= len(encoded) {
			return 0, index, fmt.Errorf("truncated polyline at byte %d", index)
		}
		b := int64(encoded[index]) - 63
		index++
		if b < 0 || b > 0x3f {
			return 0, index, fmt.Errorf("invalid polyline character %q", encoded[index-1])
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
		if shift > 60 {
			return 0, index, fmt.Errorf("polyline value overflow")
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}
