package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"transitbaseline.dev/gtfs/model"
)

const (
	PSQLTripBatchSize     = 10000
	PSQLStopTimeBatchSize = 5000
)

var psqlFeedTables = []string{"stops", "routes", "trips", "stop_times", "calendar"}

type PSQLStorage struct {
	db *sql.DB
}

// Rows carry a row_index, so that reads can return records in the
// order they were written.
type PSQLFeedWriter struct {
	id          string
	db          *sql.DB
	rowIndex    int64
	tripBuf     []model.Trip
	stopTimeBuf []model.StopTime
}

type PSQLFeedReader struct {
	id string
	db *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS feed;
DROP TABLE IF EXISTS calendar;
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS trips;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	// Create feed table if needed
	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMPTZ NOT NULL,
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

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
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
	paramCount := 1

	if filter.URL != "" {
		conditions = append(conditions, fmt.Sprintf("url = $%d", paramCount))
		params = append(params, filter.URL)
		paramCount++
	}
	if filter.Hash != "" {
		conditions = append(conditions, fmt.Sprintf("hash = $%d", paramCount))
		params = append(params, filter.Hash)
		paramCount++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY retrieved_at DESC"

	rows, err := s.db.Query(query, params...)
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
		feed.RetrievedAt = feed.RetrievedAt.UTC()
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *PSQLStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	_, err := s.db.Exec(`
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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
		feed.RetrievedAt.UTC(),
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

func (s *PSQLStorage) DeleteFeedMetadata(url string, hash string) error {
	_, err := s.db.Exec(`
DELETE FROM feed
WHERE url = $1 AND hash = $2
`, url, hash)
	return err
}

func (s *PSQLStorage) GetReader(hash string) (FeedReader, error) {
	return &PSQLFeedReader{
		id: hash,
		db: s.db,
	}, nil
}

func (s *PSQLStorage) GetWriter(hash string) (FeedWriter, error) {
	tables := map[string]string{
		"stops": `
CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    row_index BIGINT NOT NULL,
    id TEXT NOT NULL,
    code TEXT,
    name TEXT NOT NULL,
    description TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    PRIMARY KEY(hash, id)
);`,
		"routes": `
CREATE TABLE IF NOT EXISTS routes (
    hash TEXT NOT NULL,
    row_index BIGINT NOT NULL,
    id TEXT NOT NULL,
    short_name TEXT,
    long_name TEXT,
    type INTEGER NOT NULL,
    color TEXT,
    PRIMARY KEY(hash, id)
);`,
		"trips": `
CREATE TABLE IF NOT EXISTS trips (
    hash TEXT NOT NULL,
    row_index BIGINT NOT NULL,
    id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    direction_id INTEGER,
    PRIMARY KEY(hash, id)
);
CREATE INDEX IF NOT EXISTS trips_route_id ON trips (route_id);
CREATE INDEX IF NOT EXISTS trips_service_id ON trips (service_id);
`,
		"stop_times": `
CREATE TABLE IF NOT EXISTS stop_times (
    hash TEXT NOT NULL,
    row_index BIGINT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    PRIMARY KEY(hash, trip_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_trip_id ON stop_times (hash, trip_id);
CREATE INDEX IF NOT EXISTS stop_times_row_index ON stop_times (hash, row_index);
`,
		"calendar": `
CREATE TABLE IF NOT EXISTS calendar (
    hash TEXT NOT NULL,
    row_index BIGINT NOT NULL,
    service_id TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday INTEGER NOT NULL,
    tuesday INTEGER NOT NULL,
    wednesday INTEGER NOT NULL,
    thursday INTEGER NOT NULL,
    friday INTEGER NOT NULL,
    saturday INTEGER NOT NULL,
    sunday INTEGER NOT NULL,
    PRIMARY KEY(hash, service_id)
);`,
	}

	// Create tables if they don't exist
	for _, name := range psqlFeedTables {
		_, err := s.db.Exec(tables[name])
		if err != nil {
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	// In case feed already exists, delete all records
	for _, name := range psqlFeedTables {
		_, err := s.db.Exec(`DELETE FROM `+name+` WHERE hash = $1`, hash)
		if err != nil {
			return nil, fmt.Errorf("deleting %s records: %w", name, err)
		}
	}

	return &PSQLFeedWriter{
		id: hash,
		db: s.db,
	}, nil
}

func (w *PSQLFeedWriter) nextRowIndex() int64 {
	w.rowIndex++
	return w.rowIndex
}

func (w *PSQLFeedWriter) WriteStop(stop model.Stop) error {
	_, err := w.db.Exec(`
INSERT INTO stops (hash, row_index, id, code, name, description, lat, lon)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.id,
		w.nextRowIndex(),
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

func (w *PSQLFeedWriter) WriteRoute(route model.Route) error {
	_, err := w.db.Exec(`
INSERT INTO routes (hash, row_index, id, short_name, long_name, type, color)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.id,
		w.nextRowIndex(),
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

func (w *PSQLFeedWriter) BeginTrips() error {
	return nil
}

func (w *PSQLFeedWriter) WriteTrip(trip model.Trip) error {
	w.tripBuf = append(w.tripBuf, trip)

	if len(w.tripBuf) >= PSQLTripBatchSize {
		err := w.flushTrips()
		if err != nil {
			return fmt.Errorf("flushing trips: %w", err)
		}
	}

	return nil
}

func (w *PSQLFeedWriter) EndTrips() error {
	if len(w.tripBuf) > 0 {
		err := w.flushTrips()
		if err != nil {
			return fmt.Errorf("flushing trips: %w", err)
		}
	}
	return nil
}

func (w *PSQLFeedWriter) flushTrips() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn(
		"trips", "hash", "row_index", "id", "route_id", "service_id", "headsign", "direction_id",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, trip := range w.tripBuf {
		_, err = stmt.Exec(
			w.id, w.nextRowIndex(), trip.ID, trip.RouteID, trip.ServiceID, trip.Headsign, trip.DirectionID,
		)
		if err != nil {
			return fmt.Errorf("COPY trip: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.tripBuf = nil

	return nil
}

func (w *PSQLFeedWriter) WriteCalendar(cal model.Calendar) error {
	days := [7]int{}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if cal.RunsOn(day) {
			days[day] = 1
		}
	}

	_, err := w.db.Exec(`
INSERT INTO calendar (hash, row_index, service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.id,
		w.nextRowIndex(),
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

func (w *PSQLFeedWriter) BeginStopTimes() error {
	return nil
}

func (w *PSQLFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	w.stopTimeBuf = append(w.stopTimeBuf, stopTime)

	if len(w.stopTimeBuf) >= PSQLStopTimeBatchSize {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}

	return nil
}

func (w *PSQLFeedWriter) EndStopTimes() error {
	if len(w.stopTimeBuf) > 0 {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}
	return nil
}

func (w *PSQLFeedWriter) flushStopTimes() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn(
		"stop_times", "hash", "row_index", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, stopTime := range w.stopTimeBuf {
		_, err = stmt.Exec(
			w.id,
			w.nextRowIndex(),
			stopTime.TripID,
			stopTime.StopID,
			stopTime.StopSequence,
			stopTime.Arrival,
			stopTime.Departure,
		)
		if err != nil {
			return fmt.Errorf("COPY stop_time: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.stopTimeBuf = nil

	return nil
}

func (w *PSQLFeedWriter) Close() error {
	_, err := w.db.Exec(`ANALYZE`)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	return nil
}

func (r *PSQLFeedReader) Stops() ([]model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, code, name, description, lat, lon
FROM stops
WHERE hash = $1
ORDER BY row_index`, r.id)
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

func (r *PSQLFeedReader) Routes() ([]model.Route, error) {
	rows, err := r.db.Query(`
SELECT id, short_name, long_name, type, color
FROM routes
WHERE hash = $1
ORDER BY row_index`, r.id)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		route := model.Route{}
		err := rows.Scan(
			&route.ID,
			&route.ShortName,
			&route.LongName,
			&route.Type,
			&route.Color,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}

	return routes, rows.Err()
}

func (r *PSQLFeedReader) Trips() ([]model.Trip, error) {
	rows, err := r.db.Query(`
SELECT id, route_id, service_id, headsign, direction_id
FROM trips
WHERE hash = $1
ORDER BY row_index`, r.id)
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

func (r *PSQLFeedReader) scanStopTimes(rows *sql.Rows) ([]model.StopTime, error) {
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

func (r *PSQLFeedReader) StopTimes() ([]model.StopTime, error) {
	rows, err := r.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE hash = $1
ORDER BY row_index`, r.id)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	return r.scanStopTimes(rows)
}

func (r *PSQLFeedReader) StopTimesForTrips(tripIDs []string) ([]model.StopTime, error) {
	if len(tripIDs) == 0 {
		return []model.StopTime{}, nil
	}

	rows, err := r.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE hash = $1 AND
      trip_id = ANY($2)
ORDER BY row_index`, r.id, pq.Array(tripIDs))
	if err != nil {
		return nil, fmt.Errorf("querying stop times for trips: %w", err)
	}
	defer rows.Close()

	return r.scanStopTimes(rows)
}

func (r *PSQLFeedReader) Calendars() ([]model.Calendar, error) {
	rows, err := r.db.Query(`
SELECT service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
WHERE hash = $1
ORDER BY row_index`, r.id)
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
