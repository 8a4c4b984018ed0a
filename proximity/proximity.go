package proximity

import (
	"fmt"
	"math"
	"sort"

	"transitbaseline.dev/gtfs/model"
)

const (
	DefaultEarthRadiusMeters = 6371000
	DefaultWalkingSpeed      = 80 // meters per minute
	DefaultMaxDistanceMeters = 1000
)

// Returned for coordinates that are not finite, or out of range.
type CoordinateError struct {
	Lat float64
	Lon float64
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%v, %v)", e.Lat, e.Lon)
}

// Returned for a search radius that is not a finite number.
type DistanceError struct {
	Meters float64
}

func (e *DistanceError) Error() string {
	return fmt.Sprintf("invalid distance %v", e.Meters)
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Distance and nearest stop computations on a spherical earth.
type Engine struct {
	EarthRadiusMeters float64

	// Assumed walking speed, in meters per minute.
	WalkingSpeed float64

	// Search radius used when NearbyStops is given a
	// non-positive radius.
	MaxDistanceMeters float64
}

func NewEngine() Engine {
	return Engine{
		EarthRadiusMeters: DefaultEarthRadiusMeters,
		WalkingSpeed:      DefaultWalkingSpeed,
		MaxDistanceMeters: DefaultMaxDistanceMeters,
	}
}

// Great circle distance in meters between two points given in
// decimal degrees, using the haversine formula.
func (e Engine) Distance(aLat, aLon, bLat, bLon float64) (float64, error) {
	if !validCoordinate(aLat, aLon) {
		return 0, &CoordinateError{aLat, aLon}
	}
	if !validCoordinate(bLat, bLon) {
		return 0, &CoordinateError{bLat, bLon}
	}
	return haversine(aLat, aLon, bLat, bLon) * e.EarthRadiusMeters, nil
}

// Central angle between two points, in radians.
func haversine(aLat, aLon, bLat, bLon float64) float64 {
	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := bLatRad - aLatRad
	deltaLon := bLonRad - aLonRad

	a := math.Pow(math.Sin(deltaLat/2), 2) + math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2)

	// Rounding can push a marginally above 1 for antipodes
	return 2 * math.Asin(math.Sqrt(math.Min(1, a)))
}

type NearbyStop struct {
	model.Stop
	DistanceMeters  float64
	WalkTimeMinutes float64
}

// Returns stops within maxDistance meters of lat,lon, closest
// first. Stops at equal distance keep their order in stops.
//
// If maxDistance is <= 0, the engine's MaxDistanceMeters is used. NaN
// and infinite distances are a DistanceError.
func (e Engine) NearbyStops(stops []model.Stop, lat float64, lon float64, maxDistance float64) ([]NearbyStop, error) {
	if !validCoordinate(lat, lon) {
		return nil, &CoordinateError{lat, lon}
	}
	if math.IsNaN(maxDistance) || math.IsInf(maxDistance, 0) {
		return nil, &DistanceError{maxDistance}
	}
	if maxDistance <= 0 {
		maxDistance = e.MaxDistanceMeters
	}

	nearby := []NearbyStop{}
	for _, s := range stops {
		d, err := e.Distance(s.Lat, s.Lon, lat, lon)
		if err != nil {
			return nil, fmt.Errorf("stop '%s': %w", s.ID, err)
		}
		if d > maxDistance {
			continue
		}
		nearby = append(nearby, NearbyStop{
			Stop:            s,
			DistanceMeters:  d,
			WalkTimeMinutes: math.Round(d/e.WalkingSpeed*10) / 10,
		})
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	return nearby, nil
}

// Mean position of stops. ok is false if stops is empty.
func Centroid(stops []model.Stop) (lat float64, lon float64, ok bool) {
	if len(stops) == 0 {
		return 0, 0, false
	}
	for _, s := range stops {
		lat += s.Lat
		lon += s.Lon
	}
	n := float64(len(stops))
	return lat / n, lon / n, true
}
