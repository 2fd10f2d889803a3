package storage

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"tidbyt.dev/departureboard/model"
)

// Rows buffered before each COPY into trips or stop_times.
const psqlBatchSize = 10000

type PSQLStorage struct {
	sqlStorage
}

type PSQLFeedWriter struct {
	storage   *sqlStorage
	hash      string
	trips     []*model.Trip
	stopTimes []*model.StopTime
}

func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &PSQLStorage{
		sqlStorage: sqlStorage{
			db:     db,
			rebind: dollarRebind,
		},
	}

	if clearDB {
		if err := s.dropSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *PSQLStorage) Close() error {
	return s.db.Close()
}

func (s *PSQLStorage) GetWriter(hash string) (FeedWriter, error) {
	if err := s.clearFeed(hash); err != nil {
		return nil, err
	}

	return &PSQLFeedWriter{
		storage: &s.sqlStorage,
		hash:    hash,
	}, nil
}

func (w *PSQLFeedWriter) WriteAgency(a *model.Agency) error {
	_, err := w.storage.exec(`
INSERT INTO agency (hash, id, name, url, timezone)
VALUES (?, ?, ?, ?, ?)`,
		w.hash, a.ID, a.Name, a.URL, a.Timezone,
	)
	if err != nil {
		return fmt.Errorf("inserting agency: %w", err)
	}
	return nil
}

func (w *PSQLFeedWriter) WriteStop(stop *model.Stop) error {
	_, err := w.storage.exec(`
INSERT INTO stops (hash, id, code, name, description, lat, lon, url, location_type, parent_station, platform_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.hash,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Desc,
		stop.Lat,
		stop.Lon,
		stop.URL,
		stop.LocationType,
		stop.ParentStation,
		stop.PlatformCode,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (w *PSQLFeedWriter) WriteRoute(route *model.Route) error {
	_, err := w.storage.exec(`
INSERT INTO routes (hash, id, agency_id, line_id, short_name, long_name, description, type, url, color, text_color)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.hash,
		route.ID,
		route.AgencyID,
		route.LineID,
		route.ShortName,
		route.LongName,
		route.Desc,
		route.Type,
		route.URL,
		route.Color,
		route.TextColor,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (w *PSQLFeedWriter) BeginTrips() error {
	return nil
}

func (w *PSQLFeedWriter) WriteTrip(trip *model.Trip) error {
	w.trips = append(w.trips, trip)
	if len(w.trips) >= psqlBatchSize {
		return w.flushTrips()
	}
	return nil
}

func (w *PSQLFeedWriter) EndTrips() error {
	return w.flushTrips()
}

// Runs a COPY of rows into table within its own transaction.
func (w *PSQLFeedWriter) copyIn(table string, columns []string, n int, row func(i int) []interface{}) error {
	if n == 0 {
		return nil
	}

	tx, err := w.storage.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	stmt, err := tx.Prepare(pq.CopyIn(table, columns...))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing copy into %s: %w", table, err)
	}

	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(row(i)...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("copying into %s: %w", table, err)
		}
	}

	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("flushing copy into %s: %w", table, err)
	}

	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return fmt.Errorf("closing copy into %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing copy into %s: %w", table, err)
	}

	return nil
}

func (w *PSQLFeedWriter) flushTrips() error {
	trips := w.trips
	w.trips = nil
	return w.copyIn(
		"trips",
		[]string{"hash", "id", "route_id", "service_id", "headsign", "short_name", "direction_id"},
		len(trips),
		func(i int) []interface{} {
			t := trips[i]
			return []interface{}{w.hash, t.ID, t.RouteID, t.ServiceID, t.Headsign, t.ShortName, t.DirectionID}
		},
	)
}

func (w *PSQLFeedWriter) WriteCalendar(cal *model.Calendar) error {
	return writeCalendar(w.storage, w.hash, cal)
}

func (w *PSQLFeedWriter) WriteCalendarDate(cd *model.CalendarDate) error {
	return writeCalendarDate(w.storage, w.hash, cd)
}

func (w *PSQLFeedWriter) BeginStopTimes() error {
	return nil
}

func (w *PSQLFeedWriter) WriteStopTime(stopTime *model.StopTime) error {
	w.stopTimes = append(w.stopTimes, stopTime)
	if len(w.stopTimes) >= psqlBatchSize {
		return w.flushStopTimes()
	}
	return nil
}

func (w *PSQLFeedWriter) EndStopTimes() error {
	return w.flushStopTimes()
}

func (w *PSQLFeedWriter) flushStopTimes() error {
	sts := w.stopTimes
	w.stopTimes = nil
	return w.copyIn(
		"stop_times",
		[]string{"hash", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time", "headsign"},
		len(sts),
		func(i int) []interface{} {
			st := sts[i]
			return []interface{}{w.hash, st.TripID, st.StopID, st.StopSequence, st.Arrival, st.Departure, st.Headsign}
		},
	)
}

func (w *PSQLFeedWriter) Close() error {
	if err := w.flushTrips(); err != nil {
		return err
	}
	return w.flushStopTimes()
}
