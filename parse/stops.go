package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/storage"
)

type StopCSV struct {
	ID   string  `csv:"stop_id"`
	Code string  `csv:"stop_code"`
	Name string  `csv:"stop_name"`
	Desc string  `csv:"stop_desc"`
	Lat  string  `csv:"stop_lat"`
	Lon  string  `csv:"stop_lon"`
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	stopIDs := map[string]bool{}
	for _, st := range stopCsv {
		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}

		if stopIDs[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		stopIDs[st.ID] = true

		if st.Name == "" {
			return nil, fmt.Errorf("empty stop_name for stop_id '%s'", st.ID)
		}

		if strings.TrimSpace(st.Lat) == "" || strings.TrimSpace(st.Lon) == "" {
			return nil, fmt.Errorf("empty stop_lat or stop_lon for stop_id '%s'", st.ID)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(st.Lat), 64)
		if err != nil {
			return nil, fmt.Errorf("stop_id '%s' has invalid stop_lat: %w", st.ID, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(st.Lon), 64)
		if err != nil {
			return nil, fmt.Errorf("stop_id '%s' has invalid stop_lon: %w", st.ID, err)
		}
		if !(lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180) {
			return nil, fmt.Errorf("stop_id '%s' has invalid position (%v, %v)", st.ID, lat, lon)
		}

		err = writer.WriteStop(model.Stop{
			ID:   st.ID,
			Code: st.Code,
			Name: st.Name,
			Desc: st.Desc,
			Lat:  lat,
			Lon:  lon,
		})
		if err != nil {
			return nil, fmt.Errorf("writing stop '%s': %w", st.ID, err)
		}
	}

	return stopIDs, nil
}
