// Package headway derives per-stop scheduled headway statistics from
// stop events of a set of trips.
//
// A headway is the time between two consecutive scheduled arrivals at
// the same stop, for trips sharing a service calendar. The first
// arrival of every (stop, service) group has no predecessor and
// contributes no observation.
package headway

import (
	"fmt"
	"sort"

	"transitbaseline.dev/gtfs/model"
)

// Reported for every stop event whose arrival_time is blank or does
// not parse.
type MalformedTimeError struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Value        string
	Err          error
}

func (e *MalformedTimeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("missing arrival_time (trip '%s', stop '%s', seq %d)", e.TripID, e.StopID, e.StopSequence)
	}
	return fmt.Sprintf("malformed arrival_time '%s' (trip '%s', stop '%s', seq %d): %v", e.Value, e.TripID, e.StopID, e.StopSequence, e.Err)
}

func (e *MalformedTimeError) Unwrap() error {
	return e.Err
}

type StopStats struct {
	StopID        string
	StopName      string
	MeanMinutes   float64
	MedianMinutes float64
	Observations  int
}

type Result struct {
	// Per stop statistics, ordered by stop ID. Stops without any
	// headway observation are absent.
	Stats []StopStats

	// Number of stop events that took part in the computation,
	// i.e. after joining with trips and applying the window.
	Events int

	// Stop events with blank or unparseable arrival times.
	Malformed []*MalformedTimeError
}

func (r *Result) Empty() bool {
	return len(r.Stats) == 0
}

// Computes headway statistics. The zero Engine coerces malformed
// arrival times to midnight, which is what most consumers of this
// data have historically done.
type Engine struct {
	// Exclude events with malformed arrival times instead of
	// treating them as 00:00:00.
	DropMalformed bool
}

type event struct {
	stopID    string
	serviceID string
	sec       int
}

type groupKey struct {
	stopID    string
	serviceID string
}

// Computes per-stop headway statistics for the stop events of trips.
//
// trips is expected to be restricted to a single route and day
// already. Stop events referencing trips not in trips, or stops not
// in stops, are ignored. Only events with arrival inside window are
// considered.
func (e Engine) Stats(
	trips []model.Trip,
	stopTimes []model.StopTime,
	stops []model.Stop,
	window Window,
) *Result {
	res := &Result{Stats: []StopStats{}}

	tripByID := make(map[string]model.Trip, len(trips))
	for _, t := range trips {
		if _, found := tripByID[t.ID]; !found {
			tripByID[t.ID] = t
		}
	}
	if len(tripByID) == 0 {
		return res
	}

	// First row wins for duplicated stop IDs
	stopName := make(map[string]string, len(stops))
	for _, s := range stops {
		if _, found := stopName[s.ID]; !found {
			stopName[s.ID] = s.Name
		}
	}

	// Join events with trips, converting arrival times
	events := []event{}
	for _, st := range stopTimes {
		trip, found := tripByID[st.TripID]
		if !found {
			continue
		}
		if _, found := stopName[st.StopID]; !found {
			continue
		}

		sec, err := ParseClock(st.Arrival)
		if err != nil {
			res.Malformed = append(res.Malformed, &MalformedTimeError{
				TripID:       st.TripID,
				StopID:       st.StopID,
				StopSequence: st.StopSequence,
				Value:        st.Arrival,
				Err:          err,
			})
			if e.DropMalformed {
				continue
			}
			sec = 0
		}

		if !window.Contains(sec) {
			continue
		}

		events = append(events, event{
			stopID:    st.StopID,
			serviceID: trip.ServiceID,
			sec:       sec,
		})
	}

	res.Events = len(events)
	if len(events) == 0 {
		return res
	}

	// Group by (stop, service), keeping original relative order
	groups := map[groupKey][]int{}
	for _, ev := range events {
		k := groupKey{ev.stopID, ev.serviceID}
		groups[k] = append(groups[k], ev.sec)
	}

	// Headways of each group, collapsed per stop
	headways := map[string][]int{}
	for k, secs := range groups {
		sort.SliceStable(secs, func(i, j int) bool {
			return secs[i] < secs[j]
		})
		for i := 1; i < len(secs); i++ {
			headways[k.stopID] = append(headways[k.stopID], secs[i]-secs[i-1])
		}
	}

	for stopID, hs := range headways {
		res.Stats = append(res.Stats, StopStats{
			StopID:        stopID,
			StopName:      stopName[stopID],
			MeanMinutes:   mean(hs) / 60,
			MedianMinutes: median(hs) / 60,
			Observations:  len(hs),
		})
	}

	sort.Slice(res.Stats, func(i, j int) bool {
		return res.Stats[i].StopID < res.Stats[j].StopID
	})

	return res
}

func mean(values []int) float64 {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func median(values []int) float64 {
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
