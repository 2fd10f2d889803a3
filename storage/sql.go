package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tidbyt.dev/departureboard/model"
)

// Shared by the SQLite and Postgres backends. Both keep every feed in
// the same set of tables, keyed by the feed hash. Queries are written
// with '?' placeholders and rebound for Postgres.

const schema = `
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    calendar_start TEXT NOT NULL,
    calendar_end TEXT NOT NULL,
    timezone TEXT NOT NULL,
    max_arrival TEXT NOT NULL,
    max_departure TEXT NOT NULL,
    PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS agency (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    timezone TEXT NOT NULL,
    PRIMARY KEY (hash, id)
);

CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    code TEXT,
    name TEXT NOT NULL,
    description TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    url TEXT,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    platform_code TEXT,
    PRIMARY KEY (hash, id)
);
CREATE INDEX IF NOT EXISTS stops_parent_station ON stops (hash, parent_station);

CREATE TABLE IF NOT EXISTS routes (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    agency_id TEXT,
    line_id TEXT,
    short_name TEXT,
    long_name TEXT NOT NULL,
    description TEXT,
    type INTEGER NOT NULL,
    url TEXT,
    color TEXT,
    text_color TEXT,
    PRIMARY KEY (hash, id)
);

CREATE TABLE IF NOT EXISTS trips (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    short_name TEXT,
    direction_id INTEGER,
    PRIMARY KEY (hash, id)
);
CREATE INDEX IF NOT EXISTS trips_route_id ON trips (hash, route_id);

CREATE TABLE IF NOT EXISTS stop_times (
    hash TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    headsign TEXT
);
CREATE INDEX IF NOT EXISTS stop_times_trip_id ON stop_times (hash, trip_id);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON stop_times (hash, stop_id);

CREATE TABLE IF NOT EXISTS calendar (
    hash TEXT NOT NULL,
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
    PRIMARY KEY (hash, service_id)
);

CREATE TABLE IF NOT EXISTS calendar_dates (
    hash TEXT NOT NULL,
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS calendar_dates_service_id ON calendar_dates (hash, service_id);
`

var feedTables = []string{
	"agency",
	"stops",
	"routes",
	"trips",
	"stop_times",
	"calendar",
	"calendar_dates",
}

type sqlStorage struct {
	db *sql.DB

	// Rewrites '?' placeholders into the driver's syntax.
	rebind func(string) string

	// Feeds written through this instance.
	mu      sync.Mutex
	written map[string]bool
}

func noRebind(query string) string {
	return query
}

// Rewrites '?' placeholders as $1, $2, ...
func dollarRebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *sqlStorage) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *sqlStorage) createSchema() error {
	// Statements are run one at a time, as not all drivers
	// accept multiple statements per Exec.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStorage) dropSchema() error {
	for _, table := range append([]string{"feed"}, feedTables...) {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	return nil
}

// Removes all data previously written for a feed, in preparation
// for writing it anew.
func (s *sqlStorage) clearFeed(hash string) error {
	for _, table := range feedTables {
		if _, err := s.exec(`DELETE FROM `+table+` WHERE hash = ?`, hash); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written == nil {
		s.written = map[string]bool{}
	}
	s.written[hash] = true

	return nil
}

func (s *sqlStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    timezone,
    max_arrival,
    max_departure
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

	rows, err := s.db.Query(s.rebind(query), params...)
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
			&feed.Timezone,
			&feed.MaxArrival,
			&feed.MaxDeparture,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feed.RetrievedAt = feed.RetrievedAt.UTC()
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *sqlStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	_, err := s.exec(`
INSERT INTO feed (
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    timezone,
    max_arrival,
    max_departure
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    calendar_start = excluded.calendar_start,
    calendar_end = excluded.calendar_end,
    timezone = excluded.timezone,
    max_arrival = excluded.max_arrival,
    max_departure = excluded.max_departure
`,
		feed.Hash,
		feed.URL,
		feed.RetrievedAt.UTC(),
		feed.CalendarStartDate,
		feed.CalendarEndDate,
		feed.Timezone,
		feed.MaxArrival,
		feed.MaxDeparture,
	)
	if err != nil {
		return fmt.Errorf("writing feed metadata: %w", err)
	}
	return nil
}

func (s *sqlStorage) DeleteFeedMetadata(url string, hash string) error {
	_, err := s.exec(`DELETE FROM feed WHERE url = ? AND hash = ?`, url, hash)
	if err != nil {
		return fmt.Errorf("deleting feed metadata: %w", err)
	}
	return nil
}

// Feeds are readable once written, either by this instance or by a
// previous one (as recorded in the feed table).
func (s *sqlStorage) GetReader(hash string) (FeedReader, error) {
	s.mu.Lock()
	known := s.written[hash]
	s.mu.Unlock()

	if !known {
		var n int
		err := s.db.QueryRow(s.rebind(`SELECT COUNT(*) FROM feed WHERE hash = ?`), hash).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("looking up feed: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("feed %s not found", hash)
		}
	}

	return &sqlFeedReader{
		db:     s.db,
		hash:   hash,
		rebind: s.rebind,
	}, nil
}

// FeedReader over the shared tables. Each method runs its queries
// sequentially and closes its rows before issuing the next, so a
// single-connection database can't deadlock.
type sqlFeedReader struct {
	db     *sql.DB
	hash   string
	rebind func(string) string
}

func (r *sqlFeedReader) query(query string, args ...interface{}) (*sql.Rows, error) {
	return r.db.Query(r.rebind(query), append([]interface{}{r.hash}, args...)...)
}

func (r *sqlFeedReader) Agencies() ([]*model.Agency, error) {
	rows, err := r.query(`
SELECT id, name, url, timezone
FROM agency
WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying agencies: %w", err)
	}
	defer rows.Close()

	agencies := []*model.Agency{}
	for rows.Next() {
		a := &model.Agency{}
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Timezone); err != nil {
			return nil, fmt.Errorf("scanning agency: %w", err)
		}
		agencies = append(agencies, a)
	}

	return agencies, rows.Err()
}

func (r *sqlFeedReader) Stops() ([]*model.Stop, error) {
	rows, err := r.query(`
SELECT id, code, name, description, lat, lon, url, location_type, parent_station, platform_code
FROM stops
WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []*model.Stop{}
	for rows.Next() {
		s := &model.Stop{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
			&s.URL,
			&s.LocationType,
			&s.ParentStation,
			&s.PlatformCode,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (r *sqlFeedReader) Routes() ([]*model.Route, error) {
	rows, err := r.query(`
SELECT id, agency_id, line_id, short_name, long_name, description, type, url, color, text_color
FROM routes
WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []*model.Route{}
	for rows.Next() {
		rt := &model.Route{}
		err := rows.Scan(
			&rt.ID,
			&rt.AgencyID,
			&rt.LineID,
			&rt.ShortName,
			&rt.LongName,
			&rt.Desc,
			&rt.Type,
			&rt.URL,
			&rt.Color,
			&rt.TextColor,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, rt)
	}

	return routes, rows.Err()
}

func (r *sqlFeedReader) Trips() ([]*model.Trip, error) {
	rows, err := r.query(`
SELECT id, route_id, service_id, headsign, short_name, direction_id
FROM trips
WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []*model.Trip{}
	for rows.Next() {
		t := &model.Trip{}
		err := rows.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.ShortName, &t.DirectionID)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

func scanCalendar(rows *sql.Rows) (*model.Calendar, error) {
	c := &model.Calendar{}
	days := [7]int{}
	err := rows.Scan(
		&c.ServiceID,
		&c.StartDate,
		&c.EndDate,
		&days[time.Monday],
		&days[time.Tuesday],
		&days[time.Wednesday],
		&days[time.Thursday],
		&days[time.Friday],
		&days[time.Saturday],
		&days[time.Sunday],
	)
	if err != nil {
		return nil, err
	}
	for wd, on := range days {
		if on == 1 {
			c.Weekday |= 1 << wd
		}
	}
	return c, nil
}

const calendarColumns = `service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday`

func (r *sqlFeedReader) Calendars() ([]*model.Calendar, error) {
	rows, err := r.query(`SELECT ` + calendarColumns + ` FROM calendar WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying calendars: %w", err)
	}
	defer rows.Close()

	cals := []*model.Calendar{}
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		cals = append(cals, c)
	}

	return cals, rows.Err()
}

func (r *sqlFeedReader) CalendarDates() ([]*model.CalendarDate, error) {
	rows, err := r.query(`
SELECT service_id, date, exception_type
FROM calendar_dates
WHERE hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar dates: %w", err)
	}
	defer rows.Close()

	cds := []*model.CalendarDate{}
	for rows.Next() {
		cd := &model.CalendarDate{}
		if err := rows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType); err != nil {
			return nil, fmt.Errorf("scanning calendar date: %w", err)
		}
		cds = append(cds, cd)
	}

	return cds, rows.Err()
}

func (r *sqlFeedReader) ActiveServices(date string) ([]string, error) {
	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}
	weekday := weekdayColumns[parsedDate.Weekday()]

	rows, err := r.db.Query(r.rebind(`
WITH
Exceptions AS (
    SELECT service_id, exception_type
    FROM calendar_dates
    WHERE hash = ? AND date = ?
),
Regular AS (
    SELECT service_id
    FROM calendar
    WHERE hash = ? AND
          `+weekday+` = 1 AND
          start_date <= ? AND
          end_date >= ?
)
SELECT service_id
FROM Regular
WHERE service_id NOT IN (
    SELECT service_id FROM Exceptions WHERE exception_type = 2
)
UNION
SELECT service_id
FROM Exceptions
WHERE exception_type = 1
ORDER BY service_id
`), r.hash, date, r.hash, date, date)
	if err != nil {
		return nil, fmt.Errorf("querying for active services: %w", err)
	}
	defer rows.Close()

	activeServices := []string{}
	for rows.Next() {
		var serviceID string
		if err := rows.Scan(&serviceID); err != nil {
			return nil, fmt.Errorf("scanning active services: %w", err)
		}
		activeServices = append(activeServices, serviceID)
	}

	return activeServices, rows.Err()
}

func (r *sqlFeedReader) CalendarOperating(calendarID string, date string) (model.Operating, error) {
	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return model.OperatingUnknown, fmt.Errorf("invalid date: %s", date)
	}

	var exceptionType model.ExceptionType
	var hasExceptions bool
	err = r.db.QueryRow(r.rebind(`
SELECT
    COALESCE(MAX(CASE WHEN date = ? THEN exception_type END), 0),
    COUNT(*) > 0
FROM calendar_dates
WHERE hash = ? AND service_id = ?`), date, r.hash, calendarID).Scan(&exceptionType, &hasExceptions)
	if err != nil {
		return model.OperatingUnknown, fmt.Errorf("querying calendar dates: %w", err)
	}

	switch exceptionType {
	case model.ExceptionTypeAdded:
		return model.OperatingYes, nil
	case model.ExceptionTypeRemoved:
		return model.OperatingNo, nil
	}

	rows, err := r.query(`SELECT `+calendarColumns+` FROM calendar WHERE hash = ? AND service_id = ?`, calendarID)
	if err != nil {
		return model.OperatingUnknown, fmt.Errorf("querying calendar: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.OperatingUnknown, fmt.Errorf("querying calendar: %w", err)
		}
		if hasExceptions {
			return model.OperatingNo, nil
		}
		return model.OperatingUnknown, nil
	}

	cal, err := scanCalendar(rows)
	if err != nil {
		return model.OperatingUnknown, fmt.Errorf("scanning calendar: %w", err)
	}

	return calendarRangeOperating(cal, date, parsedDate.Weekday()), nil
}

func (r *sqlFeedReader) MinMaxStopSeq() (map[string][2]uint32, error) {
	rows, err := r.query(`
SELECT trip_id, MIN(stop_sequence), MAX(stop_sequence)
FROM stop_times
WHERE hash = ?
GROUP BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("querying stop sequences: %w", err)
	}
	defer rows.Close()

	mms := map[string][2]uint32{}
	for rows.Next() {
		var tripID string
		var min, max uint32
		if err := rows.Scan(&tripID, &min, &max); err != nil {
			return nil, fmt.Errorf("scanning stop sequences: %w", err)
		}
		mms[tripID] = [2]uint32{min, max}
	}

	return mms, rows.Err()
}

func (r *sqlFeedReader) RoutePoints() ([]model.RoutePoint, error) {
	rows, err := r.query(`
SELECT DISTINCT stop_times.stop_id, trips.route_id
FROM stop_times
INNER JOIN trips ON trips.hash = stop_times.hash AND trips.id = stop_times.trip_id
WHERE stop_times.hash = ?
ORDER BY stop_times.stop_id, trips.route_id`)
	if err != nil {
		return nil, fmt.Errorf("querying route points: %w", err)
	}
	defer rows.Close()

	rps := []model.RoutePoint{}
	for rows.Next() {
		var rp model.RoutePoint
		if err := rows.Scan(&rp.StopID, &rp.RouteID); err != nil {
			return nil, fmt.Errorf("scanning route point: %w", err)
		}
		rps = append(rps, rp)
	}

	return rps, rows.Err()
}

func (r *sqlFeedReader) LineWindows() (map[string]model.LineWindow, error) {
	rows, err := r.query(`
SELECT
    COALESCE(NULLIF(routes.line_id, ''), routes.id) AS line,
    MIN(stop_times.departure_time),
    MAX(stop_times.arrival_time)
FROM stop_times
INNER JOIN trips ON trips.hash = stop_times.hash AND trips.id = stop_times.trip_id
INNER JOIN routes ON routes.hash = trips.hash AND routes.id = trips.route_id
WHERE stop_times.hash = ?
GROUP BY line`)
	if err != nil {
		return nil, fmt.Errorf("querying line windows: %w", err)
	}
	defer rows.Close()

	windows := map[string]model.LineWindow{}
	for rows.Next() {
		var lineID, opening, closing string
		if err := rows.Scan(&lineID, &opening, &closing); err != nil {
			return nil, fmt.Errorf("scanning line window: %w", err)
		}
		windows[lineID] = model.LineWindow{
			LineID:  lineID,
			Opening: model.HHMMSS(opening),
			Closing: model.HHMMSS(closing),
		}
	}

	return windows, rows.Err()
}

func (r *sqlFeedReader) StopTimeEvents(filter StopTimeEventFilter) ([]*StopTimeEvent, error) {
	conditions := []string{"stop_times.hash = ?"}
	params := []interface{}{r.hash}

	if filter.StopID != "" {
		conditions = append(conditions, "(stops.id = ? OR stops.parent_station = ?)")
		params = append(params, filter.StopID, filter.StopID)
	}
	if filter.RouteID != "" {
		conditions = append(conditions, "trips.route_id = ?")
		params = append(params, filter.RouteID)
	}
	if filter.DirectionID != -1 {
		conditions = append(conditions, "trips.direction_id = ?")
		params = append(params, filter.DirectionID)
	}
	if len(filter.ServiceIDs) > 0 {
		conditions = append(conditions, "trips.service_id IN ("+placeholders(len(filter.ServiceIDs))+")")
		for _, sid := range filter.ServiceIDs {
			params = append(params, sid)
		}
	}
	if len(filter.TripIDs) > 0 {
		conditions = append(conditions, "stop_times.trip_id IN ("+placeholders(len(filter.TripIDs))+")")
		for _, tid := range filter.TripIDs {
			params = append(params, tid)
		}
	}
	if len(filter.RouteTypes) > 0 {
		conditions = append(conditions, "routes.type IN ("+placeholders(len(filter.RouteTypes))+")")
		for _, rt := range filter.RouteTypes {
			params = append(params, int(rt))
		}
	}
	if filter.DepartureStart != "" {
		conditions = append(conditions, "stop_times.departure_time >= ?")
		params = append(params, filter.DepartureStart)
	}
	if filter.DepartureEnd != "" {
		conditions = append(conditions, "stop_times.departure_time <= ?")
		params = append(params, filter.DepartureEnd)
	}

	rows, err := r.db.Query(r.rebind(`
SELECT
    stop_times.trip_id,
    stop_times.stop_id,
    stop_times.stop_sequence,
    stop_times.arrival_time,
    stop_times.departure_time,
    stop_times.headsign,
    trips.route_id,
    trips.service_id,
    trips.headsign,
    trips.short_name,
    trips.direction_id,
    routes.agency_id,
    routes.line_id,
    routes.short_name,
    routes.long_name,
    routes.description,
    routes.type,
    routes.url,
    routes.color,
    routes.text_color,
    stops.code,
    stops.name,
    stops.description,
    stops.lat,
    stops.lon,
    stops.url,
    stops.location_type,
    stops.parent_station,
    stops.platform_code,
    parent.id,
    parent.code,
    parent.name,
    parent.description,
    parent.lat,
    parent.lon,
    parent.url,
    parent.location_type,
    parent.platform_code
FROM stop_times
INNER JOIN trips ON trips.hash = stop_times.hash AND trips.id = stop_times.trip_id
INNER JOIN routes ON routes.hash = trips.hash AND routes.id = trips.route_id
INNER JOIN stops ON stops.hash = stop_times.hash AND stops.id = stop_times.stop_id
LEFT OUTER JOIN stops AS parent ON parent.hash = stops.hash AND parent.id = stops.parent_station
WHERE `+strings.Join(conditions, " AND ")+`
ORDER BY stop_times.departure_time, stop_times.trip_id, stop_times.stop_sequence`), params...)
	if err != nil {
		return nil, fmt.Errorf("querying stop time events: %w", err)
	}
	defer rows.Close()

	events := []*StopTimeEvent{}
	for rows.Next() {
		st := &model.StopTime{}
		trip := &model.Trip{}
		route := &model.Route{}
		stop := &model.Stop{}

		parentID := sql.NullString{}
		parentCode := sql.NullString{}
		parentName := sql.NullString{}
		parentDesc := sql.NullString{}
		parentLat := sql.NullFloat64{}
		parentLon := sql.NullFloat64{}
		parentURL := sql.NullString{}
		parentLocationType := sql.NullInt64{}
		parentPlatformCode := sql.NullString{}

		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
			&st.Headsign,
			&trip.RouteID,
			&trip.ServiceID,
			&trip.Headsign,
			&trip.ShortName,
			&trip.DirectionID,
			&route.AgencyID,
			&route.LineID,
			&route.ShortName,
			&route.LongName,
			&route.Desc,
			&route.Type,
			&route.URL,
			&route.Color,
			&route.TextColor,
			&stop.Code,
			&stop.Name,
			&stop.Desc,
			&stop.Lat,
			&stop.Lon,
			&stop.URL,
			&stop.LocationType,
			&stop.ParentStation,
			&stop.PlatformCode,
			&parentID,
			&parentCode,
			&parentName,
			&parentDesc,
			&parentLat,
			&parentLon,
			&parentURL,
			&parentLocationType,
			&parentPlatformCode,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time event: %w", err)
		}

		trip.ID = st.TripID
		route.ID = trip.RouteID
		stop.ID = st.StopID

		var parent *model.Stop
		if parentID.Valid {
			parent = &model.Stop{
				ID:           parentID.String,
				Code:         parentCode.String,
				Name:         parentName.String,
				Desc:         parentDesc.String,
				Lat:          parentLat.Float64,
				Lon:          parentLon.Float64,
				URL:          parentURL.String,
				LocationType: model.LocationType(parentLocationType.Int64),
				PlatformCode: parentPlatformCode.String,
			}
		}

		events = append(events, &StopTimeEvent{
			StopTime:      st,
			Trip:          trip,
			Route:         route,
			Stop:          stop,
			ParentStation: parent,
		})
	}

	return events, rows.Err()
}
