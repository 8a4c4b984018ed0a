package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	DirectionID int8   `csv:"direction_id"`
	// ShortName            string `csv:"trip_short_name"`
	// BlockID              string `csv:"block_id"`
	// ShapeID              string `csv:"shape_id"`
}

// Returns the set of trip IDs, and the number of trips referencing
// an unknown route or service. Such trips are still written.
func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, int, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	orphans := 0
	trips := map[string]bool{}
	for _, t := range tripCsv {
		if t.ID == "" {
			return nil, 0, fmt.Errorf("empty trip_id")
		}
		if t.RouteID == "" {
			return nil, 0, fmt.Errorf("empty route_id for trip_id '%s'", t.ID)
		}

		if trips[t.ID] {
			return nil, 0, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		trips[t.ID] = true

		if !routes[t.RouteID] || !services[t.ServiceID] {
			orphans++
		}

		if t.DirectionID != 0 && t.DirectionID != 1 {
			return nil, 0, fmt.Errorf("invalid direction_id '%d'", t.DirectionID)
		}

		err := writer.WriteTrip(model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			DirectionID: t.DirectionID,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("writing trip: %w", err)
		}
	}

	return trips, orphans, nil
}
