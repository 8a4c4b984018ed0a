// Package api serves schedule analysis over HTTP as JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"transitbaseline.dev/gtfs"
	"transitbaseline.dev/gtfs/headway"
	"transitbaseline.dev/gtfs/metrics"
	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/proximity"
	"transitbaseline.dev/gtfs/service"
)

const DefaultDay = "Monday"

// Default location for nearby stop searches.
type Venue struct {
	Name string
	Lat  float64
	Lon  float64
}

type Options struct {
	Venue Venue

	// Optional. When set, /metrics is served from it.
	Metrics *metrics.Collector

	// Headway results cached. Zero disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

type Server struct {
	mutex  sync.RWMutex
	static *gtfs.Static

	// Bumped by SetStatic. Part of every cache key, so results
	// computed against a replaced feed are never served.
	generation uint64

	venue   Venue
	metrics *metrics.Collector
	cache   gcache.Cache
	mux     *http.ServeMux
}

func NewServer(static *gtfs.Static, opts Options) *Server {
	s := &Server{
		static:  static,
		venue:   opts.Venue,
		metrics: opts.Metrics,
		mux:     http.NewServeMux(),
	}

	if opts.CacheSize > 0 {
		b := gcache.New(opts.CacheSize).LRU()
		if opts.CacheTTL > 0 {
			b = b.Expiration(opts.CacheTTL)
		}
		s.cache = b.Build()
	}

	s.mux.HandleFunc("GET /api/modes", s.handleModes)
	s.mux.HandleFunc("GET /api/routes", s.handleRoutes)
	s.mux.HandleFunc("GET /api/routes/{id}/stops", s.handleRouteStops)
	s.mux.HandleFunc("GET /api/headways", s.handleHeadways)
	s.mux.HandleFunc("GET /api/stops/nearby", s.handleNearby)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

// Replaces the feed being served, dropping cached results.
func (s *Server) SetStatic(static *gtfs.Static) {
	s.mutex.Lock()
	s.static = static
	s.generation++
	s.mutex.Unlock()

	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Server) current() *gtfs.Static {
	static, _ := s.snapshot()
	return static
}

func (s *Server) snapshot() (*gtfs.Static, uint64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.static, s.generation
}

type modeJSON struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	modes := []modeJSON{}
	for _, m := range s.current().Modes() {
		modes = append(modes, modeJSON{Code: int(m.Code), Name: m.Name})
	}
	writeJSON(w, modes)
}

type routeJSON struct {
	ID        string `json:"route_id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	Type      int    `json:"type"`
	Color     string `json:"color,omitempty"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	mode := strings.TrimSpace(r.URL.Query().Get("mode"))
	if mode == "" {
		httpError(w, http.StatusBadRequest, "missing mode")
		return
	}

	routes, err := s.current().RoutesByMode(mode)
	s.observe("routes", start, len(routes) == 0, err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]routeJSON, 0, len(routes))
	for _, route := range routes {
		resp = append(resp, routeJSON{
			ID:        route.ID,
			ShortName: route.ShortName,
			LongName:  route.LongName,
			Type:      int(route.Type),
			Color:     route.Color,
		})
	}
	writeJSON(w, resp)
}

type stopStatsJSON struct {
	StopID        string  `json:"stop_id"`
	StopName      string  `json:"stop_name"`
	MeanMinutes   float64 `json:"mean_headway_min"`
	MedianMinutes float64 `json:"median_headway_min"`
	Observations  int     `json:"observations"`
}

type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type diagnosticsJSON struct {
	MalformedTimes int      `json:"malformed_times"`
	Samples        []string `json:"samples"`
}

type headwaysJSON struct {
	Route       string          `json:"route"`
	Day         string          `json:"day"`
	Window      *windowJSON     `json:"window"`
	Trips       int             `json:"trips"`
	Events      int             `json:"events"`
	Stats       []stopStatsJSON `json:"stats"`
	Diagnostics diagnosticsJSON `json:"diagnostics"`
}

// Diagnostics include at most this many malformed time messages.
const maxDiagnosticSamples = 10

func (s *Server) handleHeadways(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	routeID := strings.TrimSpace(q.Get("route"))
	if routeID == "" {
		httpError(w, http.StatusBadRequest, "missing route")
		return
	}
	day := strings.TrimSpace(q.Get("day"))
	if day == "" {
		day = DefaultDay
	}
	if weekday, err := model.ParseWeekday(day); err == nil {
		day = weekday.String()
	}
	windowStart := normalizeClock(q.Get("start"))
	windowEnd := normalizeClock(q.Get("end"))

	static, generation := s.snapshot()
	key := headwaysKey(generation, routeID, day, windowStart, windowEnd)
	if s.cache != nil {
		if cached, err := s.cache.Get(key); err == nil {
			if resp, ok := cached.(*headwaysJSON); ok {
				if s.metrics != nil {
					s.metrics.CacheHits.Inc()
				}
				s.observe("headways", start, len(resp.Stats) == 0, nil)
				writeJSON(w, resp)
				return
			}
		}
	}

	report, err := static.HeadwayStats(routeID, day, windowStart, windowEnd)
	if err != nil {
		s.observe("headways", start, false, err)
		s.writeError(w, err)
		return
	}

	resp := &headwaysJSON{
		Route:  routeID,
		Day:    day,
		Trips:  report.Trips,
		Events: report.Events,
		Stats:  make([]stopStatsJSON, 0, len(report.Stats)),
		Diagnostics: diagnosticsJSON{
			MalformedTimes: len(report.Malformed),
			Samples:        []string{},
		},
	}
	if report.Window.Enabled {
		resp.Window = &windowJSON{
			Start: headway.FormatClock(report.Window.StartSec),
			End:   headway.FormatClock(report.Window.EndSec),
		}
	}
	for _, st := range report.Stats {
		resp.Stats = append(resp.Stats, stopStatsJSON{
			StopID:        st.StopID,
			StopName:      st.StopName,
			MeanMinutes:   st.MeanMinutes,
			MedianMinutes: st.MedianMinutes,
			Observations:  st.Observations,
		})
	}
	for i, m := range report.Malformed {
		if i == maxDiagnosticSamples {
			break
		}
		resp.Diagnostics.Samples = append(resp.Diagnostics.Samples, m.Error())
	}

	if len(report.Malformed) > 0 {
		log.Printf("route %s on %s: %d malformed arrival times", routeID, day, len(report.Malformed))
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
		s.metrics.MalformedTimes.Add(float64(len(report.Malformed)))
	}
	if s.cache != nil {
		if err := s.cache.Set(key, resp); err != nil {
			log.Printf("caching headways for %s: %v", key, err)
		}
	}

	s.observe("headways", start, report.Empty(), nil)
	writeJSON(w, resp)
}

type stopJSON struct {
	ID   string  `json:"stop_id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type routeStopsJSON struct {
	Route  string     `json:"route"`
	Day    string     `json:"day"`
	Center [2]float64 `json:"center"`
	Stops  []stopJSON `json:"stops"`
}

func (s *Server) handleRouteStops(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	static := s.current()

	routeID := r.PathValue("id")
	if _, found := static.Route(routeID); !found {
		httpError(w, http.StatusNotFound, fmt.Sprintf("unknown route %q", routeID))
		return
	}
	day := strings.TrimSpace(r.URL.Query().Get("day"))
	if day == "" {
		day = DefaultDay
	}

	rs, err := static.RouteStops(routeID, day)
	if err != nil {
		s.observe("route_stops", start, false, err)
		s.writeError(w, err)
		return
	}
	s.observe("route_stops", start, len(rs.Stops) == 0, nil)

	resp := routeStopsJSON{
		Route:  routeID,
		Day:    day,
		Center: [2]float64{rs.CenterLat, rs.CenterLon},
		Stops:  make([]stopJSON, 0, len(rs.Stops)),
	}
	for _, stop := range rs.Stops {
		resp.Stops = append(resp.Stops, stopJSON{
			ID:   stop.ID,
			Name: stop.Name,
			Lat:  stop.Lat,
			Lon:  stop.Lon,
		})
	}
	writeJSON(w, resp)
}

type nearbyStopJSON struct {
	stopJSON
	DistanceMeters  float64 `json:"distance_m"`
	WalkTimeMinutes float64 `json:"walk_min"`
}

type nearbyJSON struct {
	Venue string           `json:"venue,omitempty"`
	Lat   float64          `json:"lat"`
	Lon   float64          `json:"lon"`
	Stops []nearbyStopJSON `json:"stops"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	resp := nearbyJSON{Stops: []nearbyStopJSON{}}

	latStr, lonStr := q.Get("lat"), q.Get("lon")
	switch {
	case latStr == "" && lonStr == "":
		resp.Venue = s.venue.Name
		resp.Lat, resp.Lon = s.venue.Lat, s.venue.Lon
	case latStr == "" || lonStr == "":
		httpError(w, http.StatusBadRequest, "missing lat or lon")
		return
	default:
		lat, err1 := strconv.ParseFloat(latStr, 64)
		lon, err2 := strconv.ParseFloat(lonStr, 64)
		if err1 != nil || err2 != nil {
			httpError(w, http.StatusBadRequest, "invalid lat or lon")
			return
		}
		resp.Lat, resp.Lon = lat, lon
	}

	maxDistance := 0.0
	if v := q.Get("max"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) || math.IsInf(f, 0) {
			httpError(w, http.StatusBadRequest, "invalid max")
			return
		}
		maxDistance = f
	}

	nearby, err := s.current().NearbyStops(resp.Lat, resp.Lon, maxDistance)
	s.observe("nearby", start, len(nearby) == 0, err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	for _, n := range nearby {
		resp.Stops = append(resp.Stops, nearbyStopJSON{
			stopJSON: stopJSON{
				ID:   n.ID,
				Name: n.Name,
				Lat:  n.Lat,
				Lon:  n.Lon,
			},
			DistanceMeters:  n.DistanceMeters,
			WalkTimeMinutes: n.WalkTimeMinutes,
		})
	}
	writeJSON(w, resp)
}

func (s *Server) observe(kind string, start time.Time, empty bool, err error) {
	if s.metrics != nil {
		s.metrics.ObserveQuery(kind, start, empty, err)
	}
}

// Maps query errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var coordErr *proximity.CoordinateError
	var distErr *proximity.DistanceError
	switch {
	case errors.Is(err, service.ErrUnknownDay),
		errors.Is(err, gtfs.ErrUnknownMode),
		errors.Is(err, headway.ErrInvalidWindow),
		errors.As(err, &coordErr),
		errors.As(err, &distErr):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func headwaysKey(generation uint64, routeID, day, start, end string) string {
	return strings.Join([]string{strconv.FormatUint(generation, 10), routeID, day, start, end}, "|")
}

// Accepts "HH:MM" as well as "HH:MM:SS".
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		return s + ":00"
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
