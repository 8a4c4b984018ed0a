package parse

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"transitbaseline.dev/gtfs/headway"
	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/storage"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
}

type StopTimesSummary struct {
	// Latest well formed arrival_time, as HH:MM:SS
	MaxArrival string

	// Rows referencing an unknown trip or stop
	Orphans int

	// Rows with a blank or unparseable arrival_time
	MalformedTimes int
}

// Writes all stop_times. Times are kept as they appear in the feed,
// so rows with bad times or dangling references are written too, and
// only counted in the summary.
func ParseStopTimes(
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
) (*StopTimesSummary, error) {

	type tripSeq struct {
		tripID string
		seq    uint32
	}
	seen := map[tripSeq]bool{}

	summary := &StopTimesSummary{}
	maxArrival := 0

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		i += 1
		if st.TripID == "" {
			return fmt.Errorf("missing trip_id (row %d)", i+1)
		}
		if st.StopID == "" {
			return fmt.Errorf("missing stop_id (row %d)", i+1)
		}

		key := tripSeq{st.TripID, st.StopSequence}
		if seen[key] {
			return fmt.Errorf("duplicate stop_sequence %d for trip_id '%s' (row %d)", st.StopSequence, st.TripID, i+1)
		}
		seen[key] = true

		if !trips[st.TripID] || !stops[st.StopID] {
			summary.Orphans++
		}

		arrival := strings.TrimSpace(st.ArrivalTime)
		departure := strings.TrimSpace(st.DepartureTime)

		if sec, err := headway.ParseClock(arrival); err != nil {
			summary.MalformedTimes++
		} else if sec > maxArrival {
			maxArrival = sec
		}

		err := writer.WriteStopTime(model.StopTime{
			TripID:       st.TripID,
			StopID:       st.StopID,
			StopSequence: st.StopSequence,
			Arrival:      arrival,
			Departure:    departure,
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop_time (row %d)", i+1)
		}

		return nil
	})

	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling stop_times csv")
	}

	summary.MaxArrival = headway.FormatClock(maxArrival)

	return summary, nil
}
