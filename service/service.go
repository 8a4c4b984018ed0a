// Package service resolves which trips operate on a given day, and
// narrows trip and route tables for analysis.
package service

import (
	"errors"
	"fmt"
	"time"

	"transitbaseline.dev/gtfs/model"
)

var ErrUnknownDay = errors.New("unknown day")

// Service IDs of all calendars running on the given weekday.
func ServicesOn(calendars []model.Calendar, day time.Weekday) map[string]bool {
	services := map[string]bool{}
	for _, c := range calendars {
		if c.RunsOn(day) {
			services[c.ServiceID] = true
		}
	}
	return services
}

// Returns the trips operating on the named day (e.g. "Monday", case
// insensitive). Trips referencing a service missing from calendars
// never match. If no service runs on the day, the result is empty.
//
// Original order of trips is preserved.
func TripsOperatingOn(trips []model.Trip, calendars []model.Calendar, dayName string) ([]model.Trip, error) {
	day, err := model.ParseWeekday(dayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDay, dayName)
	}

	services := ServicesOn(calendars, day)

	operating := []model.Trip{}
	for _, t := range trips {
		if services[t.ServiceID] {
			operating = append(operating, t)
		}
	}
	return operating, nil
}

// Trips belonging to a route.
func FilterRoute(trips []model.Trip, routeID string) []model.Trip {
	filtered := []model.Trip{}
	for _, t := range trips {
		if t.RouteID == routeID {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Distinct IDs of routes with the given mode code, in feed order.
func RoutesByMode(routes []model.Route, code model.ModeCode) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, r := range routes {
		if r.Type != code || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	return ids
}

// Mode codes from mapping that are used by at least one route, in
// ascending order.
func AvailableModes(routes []model.Route, mapping model.ModeMapping) []model.ModeCode {
	used := map[model.ModeCode]bool{}
	for _, r := range routes {
		used[r.Type] = true
	}

	codes := []model.ModeCode{}
	for _, code := range mapping.Codes() {
		if used[code] {
			codes = append(codes, code)
		}
	}
	return codes
}

// Number of distinct stops served per route, counting only stop
// events of the given trips.
func StopsPerRoute(trips []model.Trip, stopTimes []model.StopTime) map[string]int {
	routeByTrip := make(map[string]string, len(trips))
	for _, t := range trips {
		routeByTrip[t.ID] = t.RouteID
	}

	stopSet := map[string]map[string]bool{}
	for _, st := range stopTimes {
		routeID, found := routeByTrip[st.TripID]
		if !found {
			continue
		}
		if stopSet[routeID] == nil {
			stopSet[routeID] = map[string]bool{}
		}
		stopSet[routeID][st.StopID] = true
	}

	counts := make(map[string]int, len(stopSet))
	for routeID, stops := range stopSet {
		counts[routeID] = len(stops)
	}
	return counts
}

// Stops visited by any of the given trips, in stop table order.
// Stop events referencing unknown stops are ignored.
func TripStops(trips []model.Trip, stopTimes []model.StopTime, stops []model.Stop) []model.Stop {
	tripSet := make(map[string]bool, len(trips))
	for _, t := range trips {
		tripSet[t.ID] = true
	}

	used := map[string]bool{}
	for _, st := range stopTimes {
		if tripSet[st.TripID] {
			used[st.StopID] = true
		}
	}

	res := []model.Stop{}
	seen := map[string]bool{}
	for _, s := range stops {
		if used[s.ID] && !seen[s.ID] {
			seen[s.ID] = true
			res = append(res, s)
		}
	}
	return res
}
