package gtfs

import (
	"errors"
	"fmt"

	"transitbaseline.dev/gtfs/headway"
	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/proximity"
	"transitbaseline.dev/gtfs/service"
	"transitbaseline.dev/gtfs/storage"
)

var ErrUnknownMode = errors.New("unknown mode")

// Downtown Toronto. Used as map center when a route has no stops.
const (
	DefaultCenterLat = 43.6532
	DefaultCenterLon = -79.3832
)

// Query facade over a single loaded feed.
//
// The small tables (stops, routes, trips, calendar) are read once
// when the Static is created. Stop times are fetched from the reader
// per query, for the trips involved only. A Static is safe for
// concurrent use as long as its reader is.
type Static struct {
	Metadata *storage.FeedMetadata
	Reader   storage.FeedReader

	modes     model.ModeMapping
	proximity proximity.Engine
	headway   headway.Engine
	centerLat float64
	centerLon float64

	stops     []model.Stop
	routes    []model.Route
	trips     []model.Trip
	calendars []model.Calendar
	routeByID map[string]model.Route
}

type Option func(*Static)

// Sets the mode codes considered, and their display names.
func WithModes(modes model.ModeMapping) Option {
	return func(s *Static) {
		s.modes = modes
	}
}

func WithProximity(engine proximity.Engine) Option {
	return func(s *Static) {
		s.proximity = engine
	}
}

func WithHeadway(engine headway.Engine) Option {
	return func(s *Static) {
		s.headway = engine
	}
}

// Position reported by RouteStops for routes without stops.
func WithFallbackCenter(lat float64, lon float64) Option {
	return func(s *Static) {
		s.centerLat = lat
		s.centerLon = lon
	}
}

func NewStatic(reader storage.FeedReader, metadata *storage.FeedMetadata, opts ...Option) (*Static, error) {
	s := &Static{
		Metadata:  metadata,
		Reader:    reader,
		modes:     model.DefaultModeMapping(),
		proximity: proximity.NewEngine(),
		centerLat: DefaultCenterLat,
		centerLon: DefaultCenterLon,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.stops, err = reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("reading stops: %w", err)
	}
	s.routes, err = reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	s.trips, err = reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("reading trips: %w", err)
	}
	s.calendars, err = reader.Calendars()
	if err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}

	s.routeByID = make(map[string]model.Route, len(s.routes))
	for _, r := range s.routes {
		if _, found := s.routeByID[r.ID]; !found {
			s.routeByID[r.ID] = r
		}
	}

	return s, nil
}

type Mode struct {
	Code model.ModeCode
	Name string
}

// Configured modes with at least one route in the feed, by
// ascending code.
func (s *Static) Modes() []Mode {
	modes := []Mode{}
	for _, code := range service.AvailableModes(s.routes, s.modes) {
		modes = append(modes, Mode{Code: code, Name: s.modes[code]})
	}
	return modes
}

// Routes of the named mode (e.g. "Bus"), in feed order.
func (s *Static) RoutesByMode(name string) ([]model.Route, error) {
	code, ok := s.modes.Code(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}

	routes := []model.Route{}
	for _, id := range service.RoutesByMode(s.routes, code) {
		routes = append(routes, s.routeByID[id])
	}
	return routes, nil
}

func (s *Static) Route(id string) (model.Route, bool) {
	r, ok := s.routeByID[id]
	return r, ok
}

func (s *Static) Stops() []model.Stop {
	return s.stops
}

// Trips operating on the named weekday.
func (s *Static) TripsOperatingOn(day string) ([]model.Trip, error) {
	return service.TripsOperatingOn(s.trips, s.calendars, day)
}

// Trips of a route operating on the named weekday. An unknown route
// yields no trips.
func (s *Static) RouteTrips(routeID string, day string) ([]model.Trip, error) {
	trips, err := s.TripsOperatingOn(day)
	if err != nil {
		return nil, err
	}
	return service.FilterRoute(trips, routeID), nil
}

func (s *Static) stopTimesFor(trips []model.Trip) ([]model.StopTime, error) {
	if len(trips) == 0 {
		return []model.StopTime{}, nil
	}

	ids := make([]string, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.ID)
	}

	stopTimes, err := s.Reader.StopTimesForTrips(ids)
	if err != nil {
		return nil, fmt.Errorf("reading stop times: %w", err)
	}
	return stopTimes, nil
}

type HeadwayReport struct {
	RouteID string
	Day     string
	Window  headway.Window

	// Number of route trips operating on Day
	Trips int

	*headway.Result
}

// Headway statistics for a route on a weekday. start and end bound
// the arrival times considered ("HH:MM:SS"); unless both are given,
// the whole day is used.
func (s *Static) HeadwayStats(routeID string, day string, start string, end string) (*HeadwayReport, error) {
	window, err := headway.ParseWindow(start, end)
	if err != nil {
		return nil, err
	}

	trips, err := s.RouteTrips(routeID, day)
	if err != nil {
		return nil, err
	}

	stopTimes, err := s.stopTimesFor(trips)
	if err != nil {
		return nil, err
	}

	return &HeadwayReport{
		RouteID: routeID,
		Day:     day,
		Window:  window,
		Trips:   len(trips),
		Result:  s.headway.Stats(trips, stopTimes, s.stops, window),
	}, nil
}

// Number of distinct stops served by each route on a weekday.
func (s *Static) StopsPerRoute(day string) (map[string]int, error) {
	trips, err := s.TripsOperatingOn(day)
	if err != nil {
		return nil, err
	}

	stopTimes, err := s.stopTimesFor(trips)
	if err != nil {
		return nil, err
	}

	return service.StopsPerRoute(trips, stopTimes), nil
}

type RouteStops struct {
	RouteID string
	Stops   []model.Stop

	// Mean stop position, or the fallback center if Stops is empty
	CenterLat float64
	CenterLon float64
}

// Stops used by a route's trips on a weekday, in stop table order.
func (s *Static) RouteStops(routeID string, day string) (*RouteStops, error) {
	trips, err := s.RouteTrips(routeID, day)
	if err != nil {
		return nil, err
	}

	stopTimes, err := s.stopTimesFor(trips)
	if err != nil {
		return nil, err
	}

	rs := &RouteStops{
		RouteID: routeID,
		Stops:   service.TripStops(trips, stopTimes, s.stops),
	}

	lat, lon, ok := proximity.Centroid(rs.Stops)
	if !ok {
		lat, lon = s.centerLat, s.centerLon
	}
	rs.CenterLat, rs.CenterLon = lat, lon

	return rs, nil
}

// Stops within maxDistance meters of lat,lon, closest first. A
// maxDistance <= 0 uses the proximity engine's default.
func (s *Static) NearbyStops(lat float64, lon float64, maxDistance float64) ([]proximity.NearbyStop, error) {
	return s.proximity.NearbyStops(s.stops, lat, lon, maxDistance)
}
