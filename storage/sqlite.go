package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"transitbaseline.dev/gtfs/model"
)

// SQLite caps the number of host parameters in a single statement.
const SQLiteMaxTripIDsPerQuery = 500

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	feedDB *sql.DB
	feeds  map[string]*sql.DB
}

type SQLiteFeedWriter struct {
	db                  *sql.DB
	stopTimeInsertQuery *sql.Stmt
	stopTimeInsertTx    *sql.Tx
}

type SQLiteFeedReader struct {
	db *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return nil, fmt.Errorf("creating directory: %w", err)
		}
		sourceName = directory + "/headway.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    calendar_start TEXT NOT NULL,
    calendar_end TEXT NOT NULL,
    max_arrival TEXT NOT NULL,
    orphans INTEGER NOT NULL,
    malformed_times INTEGER NOT NULL,
PRIMARY KEY (hash, url)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		feedDB: db,
		feeds:  map[string]*sql.DB{},
	}, nil
}

func (s *SQLiteStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    max_arrival,
    orphans,
    malformed_times
FROM feed`

	conditions := []string{}
	params := []interface{}{}
	if filter.URL != "" {
		conditions = append(conditions, "url = ?")
		params = append(params, filter.URL)
	}
	if filter.Hash != "" {
		conditions = append(conditions, "hash = ?")
		params = append(params, filter.Hash)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY retrieved_at DESC"

	rows, err := s.feedDB.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	feeds := []*FeedMetadata{}
	for rows.Next() {
		var feed FeedMetadata
		err := rows.Scan(
			&feed.Hash,
			&feed.URL,
			&feed.RetrievedAt,
			&feed.CalendarStartDate,
			&feed.CalendarEndDate,
			&feed.MaxArrival,
			&feed.Orphans,
			&feed.MalformedTimes,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *SQLiteStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	_, err := s.feedDB.Exec(`
INSERT INTO feed (
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    max_arrival,
    orphans,
    malformed_times
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    calendar_start = excluded.calendar_start,
    calendar_end = excluded.calendar_end,
    max_arrival = excluded.max_arrival,
    orphans = excluded.orphans,
    malformed_times = excluded.malformed_times
`,
		feed.Hash,
		feed.URL,
		feed.RetrievedAt,
		feed.CalendarStartDate,
		feed.CalendarEndDate,
		feed.MaxArrival,
		feed.Orphans,
		feed.MalformedTimes,
	)
	if err != nil {
		return fmt.Errorf("writing feed metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteFeedMetadata(url string, hash string) error {
	_, err := s.feedDB.Exec(`
DELETE FROM feed
WHERE url = ? AND hash = ?
`, url, hash)
	return err
}

func (s *SQLiteStorage) GetReader(feedID string) (FeedReader, error) {
	db, found := s.feeds[feedID]
	if found {
		return &SQLiteFeedReader{
			db: db,
		}, nil
	}
	if !s.OnDisk {
		return nil, fmt.Errorf("feed %s does not exist", feedID)
	}

	sourceName := s.Directory + "/" + feedID + ".db"
	if _, err := os.Stat(sourceName); os.IsNotExist(err) {
		return nil, fmt.Errorf("feed %s does not exist at %s", feedID, sourceName)
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s.feeds[feedID] = db

	return &SQLiteFeedReader{
		db: db,
	}, nil
}

func (s *SQLiteStorage) GetWriter(feedID string) (FeedWriter, error) {
	if old, found := s.feeds[feedID]; found {
		old.Close()
		delete(s.feeds, feedID)
	}

	sourceName := ":memory:"
	if s.OnDisk {
		sourceName = s.Directory + "/" + feedID + ".db"
		// delete file if it exists
		if _, err := os.Stat(sourceName); err == nil {
			err := os.Remove(sourceName)
			if err != nil {
				return nil, fmt.Errorf("removing existing database: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	for _, table := range []struct {
		name  string
		query string
	}{
		{"stops", `
CREATE TABLE stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    desc TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL
);`},
		{"routes", `
CREATE TABLE routes (
    id TEXT PRIMARY KEY,
    short_name TEXT,
    long_name TEXT,
    type INTEGER NOT NULL,
    color TEXT
);`},
		{"trips", `
CREATE TABLE trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    direction_id INTEGER
);
CREATE INDEX trips_route_id ON trips (route_id);
CREATE INDEX trips_service_id ON trips (service_id);
`},
		{"stop_times", `
CREATE TABLE stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL
);
CREATE INDEX stop_times_trip_id ON stop_times (trip_id);
CREATE INDEX stop_times_stop_id ON stop_times (stop_id);
`},
		{"calendar", `
CREATE TABLE calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday integer NOT NULL,
    tuesday integer NOT NULL,
    wednesday integer NOT NULL,
    thursday integer NOT NULL,
    friday integer NOT NULL,
    saturday integer NOT NULL,
    sunday integer NOT NULL
);`},
	} {
		_, err = db.Exec(table.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", table.name, err)
		}
	}

	s.feeds[feedID] = db

	return &SQLiteFeedWriter{
		db: db,
	}, nil
}

func (f *SQLiteFeedWriter) WriteStop(stop model.Stop) error {
	_, err := f.db.Exec(`
INSERT INTO stops (id, code, name, desc, lat, lon)
VALUES (?, ?, ?, ?, ?, ?)`,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Desc,
		stop.Lat,
		stop.Lon,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) WriteRoute(route model.Route) error {
	_, err := f.db.Exec(`
INSERT INTO routes (id, short_name, long_name, type, color)
VALUES (?, ?, ?, ?, ?)`,
		route.ID,
		route.ShortName,
		route.LongName,
		route.Type,
		route.Color,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) BeginTrips() error {
	return nil
}

func (f *SQLiteFeedWriter) WriteTrip(trip model.Trip) error {
	_, err := f.db.Exec(`
INSERT INTO trips (id, route_id, service_id, headsign, direction_id)
VALUES (?, ?, ?, ?, ?)`,
		trip.ID,
		trip.RouteID,
		trip.ServiceID,
		trip.Headsign,
		trip.DirectionID,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) EndTrips() error {
	return nil
}

func (f *SQLiteFeedWriter) BeginStopTimes() error {
	// transaction with prepared statement.
	var err error
	f.stopTimeInsertTx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_time insert transaction: %w", err)
	}

	f.stopTimeInsertQuery, err = f.stopTimeInsertTx.Prepare(`
INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	if f.stopTimeInsertQuery == nil {
		return fmt.Errorf("stop_time written outside BeginStopTimes/EndStopTimes")
	}

	_, err := f.stopTimeInsertQuery.Exec(
		stopTime.TripID,
		stopTime.StopID,
		stopTime.StopSequence,
		stopTime.Arrival,
		stopTime.Departure,
	)
	if err != nil {
		f.stopTimeInsertQuery.Close()
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		f.stopTimeInsertQuery = nil
		return fmt.Errorf("inserting stop_time: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) EndStopTimes() error {
	if f.stopTimeInsertTx == nil {
		return fmt.Errorf("no stop_time transaction in progress")
	}

	// commit transaction and clean up
	f.stopTimeInsertQuery.Close()
	err := f.stopTimeInsertTx.Commit()
	if err != nil {
		return fmt.Errorf("committing stop_time insert transaction: %w", err)
	}
	f.stopTimeInsertTx = nil
	f.stopTimeInsertQuery = nil

	return nil
}

func (f *SQLiteFeedWriter) WriteCalendar(cal model.Calendar) error {
	days := [7]int{}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if cal.RunsOn(day) {
			days[day] = 1
		}
	}

	_, err := f.db.Exec(`
INSERT INTO calendar (service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ServiceID,
		cal.StartDate,
		cal.EndDate,
		days[time.Monday],
		days[time.Tuesday],
		days[time.Wednesday],
		days[time.Thursday],
		days[time.Friday],
		days[time.Saturday],
		days[time.Sunday],
	)
	if err != nil {
		return fmt.Errorf("inserting calendar: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) Close() error {
	_, err := f.db.Exec(`ANALYZE;`)
	if err != nil {
		f.db.Close()
		return fmt.Errorf("analyzing database: %w", err)
	}

	return nil
}

func (f *SQLiteFeedReader) Stops() ([]model.Stop, error) {
	rows, err := f.db.Query(`
SELECT id, code, name, desc, lat, lon
FROM stops
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		s := model.Stop{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (f *SQLiteFeedReader) Routes() ([]model.Route, error) {
	rows, err := f.db.Query(`
SELECT id, short_name, long_name, type, color
FROM routes
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		r := model.Route{}
		err := rows.Scan(
			&r.ID,
			&r.ShortName,
			&r.LongName,
			&r.Type,
			&r.Color,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}

	return routes, rows.Err()
}

func (f *SQLiteFeedReader) Trips() ([]model.Trip, error) {
	rows, err := f.db.Query(`
SELECT id, route_id, service_id, headsign, direction_id
FROM trips
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []model.Trip{}
	for rows.Next() {
		t := model.Trip{}
		err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.ServiceID,
			&t.Headsign,
			&t.DirectionID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

func (f *SQLiteFeedReader) StopTimes() ([]model.StopTime, error) {
	rows, err := f.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	stopTimes := []model.StopTime{}
	for rows.Next() {
		st := model.StopTime{}
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}

	return stopTimes, rows.Err()
}

func (f *SQLiteFeedReader) StopTimesForTrips(tripIDs []string) ([]model.StopTime, error) {
	type row struct {
		rowID    int64
		stopTime model.StopTime
	}

	seen := map[string]bool{}
	unique := []string{}
	for _, id := range tripIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	found := []row{}
	for start := 0; start < len(unique); start += SQLiteMaxTripIDsPerQuery {
		end := start + SQLiteMaxTripIDsPerQuery
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		placeholders := make([]string, len(chunk))
		params := make([]interface{}, len(chunk))
		for i, id := range chunk {
			placeholders[i] = "?"
			params[i] = id
		}

		rows, err := f.db.Query(`
SELECT rowid, trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE trip_id IN (`+strings.Join(placeholders, ", ")+`)`, params...)
		if err != nil {
			return nil, fmt.Errorf("querying stop times for trips: %w", err)
		}

		for rows.Next() {
			r := row{}
			err := rows.Scan(
				&r.rowID,
				&r.stopTime.TripID,
				&r.stopTime.StopID,
				&r.stopTime.StopSequence,
				&r.stopTime.Arrival,
				&r.stopTime.Departure,
			)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning stop time: %w", err)
			}
			found = append(found, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("reading stop times: %w", err)
		}
	}

	// Chunks are queried independently, so restore write order
	sort.Slice(found, func(i, j int) bool {
		return found[i].rowID < found[j].rowID
	})

	stopTimes := make([]model.StopTime, 0, len(found))
	for _, r := range found {
		stopTimes = append(stopTimes, r.stopTime)
	}
	return stopTimes, nil
}

func (f *SQLiteFeedReader) Calendars() ([]model.Calendar, error) {
	rows, err := f.db.Query(`
SELECT service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	defer rows.Close()

	calendars := []model.Calendar{}
	for rows.Next() {
		var serviceID, startDate, endDate string
		days := [7]int{}
		err := rows.Scan(
			&serviceID,
			&startDate,
			&endDate,
			&days[time.Monday],
			&days[time.Tuesday],
			&days[time.Wednesday],
			&days[time.Thursday],
			&days[time.Friday],
			&days[time.Saturday],
			&days[time.Sunday],
		)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}

		weekday := int8(0)
		for day, runs := range days {
			if runs == 1 {
				weekday |= 1 << day
			}
		}

		calendars = append(calendars, model.Calendar{
			ServiceID: serviceID,
			StartDate: startDate,
			EndDate:   endDate,
			Weekday:   weekday,
		})
	}

	return calendars, rows.Err()
}
