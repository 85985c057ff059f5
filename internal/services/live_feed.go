package services

import (
	"context"
	"fmt"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"google.golang.org/protobuf/proto"
)

// BuildVehicleFeed renders live positions as a GTFS-realtime FeedMessage
func BuildVehicleFeed(positions []models.LiveBusPosition, generatedAt time.Time) *gtfsrt.FeedMessage {
	entities := make([]*gtfsrt.FeedEntity, 0, len(positions))
	for _, p := range positions {
		if !p.HasCoords() {
			continue
		}
		vehicleID := p.UID.String()
		if vehicleID == "" {
			vehicleID = p.RouteID
		}
		vehicle := &gtfsrt.VehiclePosition{
			Trip: &gtfsrt.TripDescriptor{RouteId: proto.String(p.RouteID)},
			Vehicle: &gtfsrt.VehicleDescriptor{
				Id:    proto.String(vehicleID),
				Label: proto.String(p.Route.String()),
			},
			Position: &gtfsrt.Position{
				Latitude:  proto.Float32(float32(p.Lat.Value)),
				Longitude: proto.Float32(float32(p.Lng.Value)),
			},
		}
		if !p.UpdatedAt.IsZero() {
			vehicle.Timestamp = proto.Uint64(uint64(p.UpdatedAt.Unix()))
		}
		entities = append(entities, &gtfsrt.FeedEntity{
			Id:      proto.String(p.RouteID),
			Vehicle: vehicle,
		})
	}

	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(generatedAt.Unix())),
		},
		Entity: entities,
	}
}

// VehicleFeed returns the protobuf encoded feed of buses seen within maxAge
func (s *LivePositionService) VehicleFeed(ctx context.Context, maxAge time.Duration) ([]byte, error) {
	positions, err := s.ActivePositions(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(BuildVehicleFeed(positions, s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode vehicle feed: %w", err)
	}
	return data, nil
}
