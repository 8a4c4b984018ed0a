package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"transitbaseline.dev/gtfs/storage"
)

// These are the files we load for static dumps. Anything else in the
// archive, like shapes.txt, is ignored.
var RequiredFiles = []string{
	"stops.txt",
	"routes.txt",
	"trips.txt",
	"stop_times.txt",
	"calendar.txt",
}

// Returned when a required file is absent from a feed.
type MissingFileError struct {
	File string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("missing %s", e.File)
}

func useLazyCSVReader() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Parses a zipped static GTFS feed into writer.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, error) {
	file := map[string]io.ReadCloser{}
	for _, name := range RequiredFiles {
		file[name] = nil
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if rc, found := file[fName]; !found || rc != nil {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		file[fName] = rc
	}

	readers := map[string]io.Reader{}
	for name, rc := range file {
		if rc != nil {
			readers[name] = rc
		}
	}

	return parseFiles(writer, readers)
}

// Parses an extracted static GTFS feed in dir into writer.
func ParseStaticDir(writer storage.FeedWriter, dir string) (*storage.FeedMetadata, error) {
	readers := map[string]io.Reader{}
	for _, name := range RequiredFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer f.Close()
		readers[name] = f
	}

	return parseFiles(writer, readers)
}

func parseFiles(writer storage.FeedWriter, file map[string]io.Reader) (*storage.FeedMetadata, error) {
	for _, required := range RequiredFiles {
		if file[required] == nil {
			return nil, &MissingFileError{File: required}
		}
	}

	useLazyCSVReader()

	// Parse routes.txt. Extract route IDs in the process.
	routes, err := ParseRoutes(writer, file["routes.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing routes.txt: %w", err)
	}

	// Parse calendar.txt. Extract set of all service IDs, and
	// min/max date of services seen.
	services, calendarStart, calendarEnd, err := ParseCalendar(writer, file["calendar.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing calendar.txt: %w", err)
	}

	// Parse trips.txt. Extract trip IDs in the process.
	err = writer.BeginTrips()
	if err != nil {
		return nil, fmt.Errorf("beginning trips: %w", err)
	}
	trips, tripOrphans, err := ParseTrips(writer, file["trips.txt"], routes, services)
	if err != nil {
		return nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	err = writer.EndTrips()
	if err != nil {
		return nil, fmt.Errorf("ending trips: %w", err)
	}

	// Parse stops.txt. Extract stop IDs in the process.
	stops, err := ParseStops(writer, file["stops.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing stops.txt: %w", err)
	}

	// Parse stop_times.txt.
	err = writer.BeginStopTimes()
	if err != nil {
		return nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	summary, err := ParseStopTimes(writer, file["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	err = writer.EndStopTimes()
	if err != nil {
		return nil, fmt.Errorf("ending stop_times: %w", err)
	}

	// All files parsed: close the writer.
	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("closing feed writer: %w", err)
	}

	// And return a (partial) metadata holding some key
	// information about the feed.
	return &storage.FeedMetadata{
		CalendarStartDate: calendarStart,
		CalendarEndDate:   calendarEnd,
		MaxArrival:        summary.MaxArrival,
		Orphans:           tripOrphans + summary.Orphans,
		MalformedTimes:    summary.MalformedTimes,
	}, nil
}
