package storage

import (
	"fmt"
	"sort"

	"transitbaseline.dev/gtfs/model"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	Feeds    map[string]*MemoryStorageFeed
	Metadata map[memoryMetadataKey]*FeedMetadata
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Feeds:    map[string]*MemoryStorageFeed{},
		Metadata: map[memoryMetadataKey]*FeedMetadata{},
	}
}

func (s *MemoryStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	feeds := []*FeedMetadata{}
	for _, metadata := range s.Metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		feeds = append(feeds, metadata)
	}
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})
	return feeds, nil
}

func (s *MemoryStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	s.Metadata[memoryMetadataKey{feed.URL, feed.Hash}] = feed
	return nil
}

func (s *MemoryStorage) DeleteFeedMetadata(url string, hash string) error {
	key := memoryMetadataKey{url, hash}
	if _, found := s.Metadata[key]; !found {
		return fmt.Errorf("feed not found")
	}
	delete(s.Metadata, key)
	return nil
}

func (s *MemoryStorage) GetReader(feed string) (FeedReader, error) {
	f, ok := s.Feeds[feed]
	if !ok {
		return nil, fmt.Errorf("feed %s does not exist", feed)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feed string) (FeedWriter, error) {
	f := &MemoryStorageFeed{
		stopTimesByTrip: map[string][]int{},
	}
	s.Feeds[feed] = f
	return f, nil
}

type MemoryStorageFeed struct {
	stops     []model.Stop
	routes    []model.Route
	trips     []model.Trip
	calendars []model.Calendar
	stopTimes []model.StopTime

	// Indexes into stopTimes
	stopTimesByTrip map[string][]int
}

func (f *MemoryStorageFeed) WriteStop(stop model.Stop) error {
	f.stops = append(f.stops, stop)
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route model.Route) error {
	f.routes = append(f.routes, route)
	return nil
}

func (f *MemoryStorageFeed) BeginTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip model.Trip) error {
	f.trips = append(f.trips, trip)
	return nil
}

func (f *MemoryStorageFeed) EndTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(cal model.Calendar) error {
	f.calendars = append(f.calendars, cal)
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime model.StopTime) error {
	f.stopTimesByTrip[stopTime.TripID] = append(f.stopTimesByTrip[stopTime.TripID], len(f.stopTimes))
	f.stopTimes = append(f.stopTimes, stopTime)
	return nil
}

func (f *MemoryStorageFeed) EndStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Stops() ([]model.Stop, error) {
	return append([]model.Stop{}, f.stops...), nil
}

func (f *MemoryStorageFeed) Routes() ([]model.Route, error) {
	return append([]model.Route{}, f.routes...), nil
}

func (f *MemoryStorageFeed) Trips() ([]model.Trip, error) {
	return append([]model.Trip{}, f.trips...), nil
}

func (f *MemoryStorageFeed) StopTimes() ([]model.StopTime, error) {
	return append([]model.StopTime{}, f.stopTimes...), nil
}

func (f *MemoryStorageFeed) Calendars() ([]model.Calendar, error) {
	return append([]model.Calendar{}, f.calendars...), nil
}

func (f *MemoryStorageFeed) StopTimesForTrips(tripIDs []string) ([]model.StopTime, error) {
	idx := []int{}
	seen := map[string]bool{}
	for _, id := range tripIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		idx = append(idx, f.stopTimesByTrip[id]...)
	}

	// Back to write order
	sort.Ints(idx)

	stopTimes := make([]model.StopTime, 0, len(idx))
	for _, i := range idx {
		stopTimes = append(stopTimes, f.stopTimes[i])
	}
	return stopTimes, nil
}
