package storage

import (
	"time"

	"transitbaseline.dev/gtfs/model"
)

type Storage interface {
	// Retrieves all feed metadata records matching the given
	// filter, most recently retrieved first.
	ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error)

	// Writes a FeedMetadata record. If a record with the same URL
	// and hash exists, it is updated.
	WriteFeedMetadata(metadata *FeedMetadata) error

	DeleteFeedMetadata(url string, hash string) error

	// Gets a reader for the feed with the given hash.
	GetReader(feed string) (FeedReader, error)

	// Gets a writer for the feed with the given hash. Any data
	// previously written for the hash is discarded.
	GetWriter(feed string) (FeedWriter, error)
}

type ListFeedsFilter struct {
	// If set, only include feeds with the given URL.
	URL string

	// If set, only include feeds with the given hash.
	Hash string
}

// Metadata for a loaded static GTFS feed. The parsed data can be
// accessed via FeedReader.
type FeedMetadata struct {
	URL               string
	Hash              string
	RetrievedAt       time.Time
	CalendarStartDate string
	CalendarEndDate   string
	MaxArrival        string

	// Number of trips and stop_times referencing unknown
	// routes, services, trips or stops.
	Orphans int

	// Number of stop_times with blank or unparseable
	// arrival_time.
	MalformedTimes int
}

// Writes GTFS records for a single feed.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
type FeedWriter interface {
	WriteStop(stop model.Stop) error
	WriteRoute(route model.Route) error
	BeginTrips() error
	WriteTrip(trip model.Trip) error
	EndTrips() error
	WriteCalendar(cal model.Calendar) error
	BeginStopTimes() error
	WriteStopTime(stopTime model.StopTime) error
	EndStopTimes() error
	Close() error
}

// Reads GTFS records of a single feed. Stops and stop_times are
// returned in the order they were written.
type FeedReader interface {
	Stops() ([]model.Stop, error)
	Routes() ([]model.Route, error)
	Trips() ([]model.Trip, error)
	StopTimes() ([]model.StopTime, error)
	Calendars() ([]model.Calendar, error)

	// Stop times belonging to any of the given trips.
	StopTimesForTrips(tripIDs []string) ([]model.StopTime, error)
}
