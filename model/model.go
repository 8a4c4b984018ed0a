package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Holds all external facing types and constants.

// Vehicle type of a route, as published in route_type. Feeds using
// extended or agency specific code spaces (e.g. TTC's 900 for
// streetcars) are supported as is; see ModeMapping.
type ModeCode int

const (
	ModeCodeSubway    ModeCode = 400
	ModeCodeBus       ModeCode = 700
	ModeCodeStreetcar ModeCode = 900
)

// Maps mode codes to display names.
type ModeMapping map[ModeCode]string

// The mapping used by the TTC feed.
func DefaultModeMapping() ModeMapping {
	return ModeMapping{
		ModeCodeStreetcar: "Streetcar",
		ModeCodeSubway:    "Subway",
		ModeCodeBus:       "Bus",
	}
}

// Returns the code for a display name. Lookup is case-insensitive,
// and the lowest code wins if several share a name.
func (m ModeMapping) Code(name string) (ModeCode, bool) {
	name = strings.TrimSpace(name)
	for _, code := range m.Codes() {
		if strings.EqualFold(m[code], name) {
			return code, true
		}
	}
	return 0, false
}

// Codes in ascending order.
func (m ModeMapping) Codes() []ModeCode {
	codes := make([]ModeCode, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

type Stop struct {
	ID   string
	Code string
	Name string
	Desc string
	Lat  float64
	Lon  float64
}

type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      ModeCode
	Color     string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID int8
}

// A scheduled stop event. Arrival and Departure hold the time of day
// exactly as published ("HH:MM:SS", hours may exceed 23), or blank.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      string
	Departure    string
}

// Weekday holds one bit per time.Weekday, i.e. 1<<time.Sunday is
// set if the service runs on sundays.
type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

func (c Calendar) RunsOn(day time.Weekday) bool {
	return c.Weekday&(1<<day) != 0
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parses a weekday name, e.g. "Monday" or "monday".
func ParseWeekday(name string) (time.Weekday, error) {
	day, found := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return 0, fmt.Errorf("unknown weekday '%s'", name)
	}
	return day, nil
}
