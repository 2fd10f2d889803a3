package departureboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

// Half-open interval [From, Until) of calendar relative time.
type Window struct {
	From  clock.DateTime
	Until clock.DateTime
}

func (w Window) Contains(t clock.DateTime) bool {
	return !t.Before(w.From) && t.Before(w.Until)
}

// Produces departures for a single route point.
//
// depth is the number of service days to inspect, starting with the
// day of w.From. The service day before it is always inspected as
// well, since its trips can run past midnight.
type Router interface {
	StopTimes(
		ctx context.Context,
		pair model.RoutePoint,
		w Window,
		depth int,
		level model.RTLevel,
	) ([]model.Departure, error)
}

// The static schedule of a feed. Answers lookups at base schedule
// fidelity regardless of the level requested.
type Static struct {
	Metadata *storage.FeedMetadata
	Reader   storage.FeedReader

	production            time.Time
	location              *time.Location
	minMaxStopSeqByTripID map[string][2]uint32
	maxDeparture          time.Duration
	lineByRoute           map[string]string
	codeByStop            map[string]string
}

func NewStatic(reader storage.FeedReader, metadata *storage.FeedMetadata) (*Static, error) {
	location, err := time.LoadLocation(metadata.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	production, err := clock.ParseDate(metadata.CalendarStartDate)
	if err != nil {
		return nil, fmt.Errorf("parsing production date: %w", err)
	}

	if len(metadata.MaxDeparture) != 6 {
		return nil, fmt.Errorf("parsing max departure '%s'", metadata.MaxDeparture)
	}
	maxDeparture := model.HHMMSS(metadata.MaxDeparture)

	minMaxStopSeqByTripID, err := reader.MinMaxStopSeq()
	if err != nil {
		return nil, fmt.Errorf("getting min/max stop seq by trip: %w", err)
	}

	routes, err := reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("getting routes: %w", err)
	}
	lineByRoute := make(map[string]string, len(routes))
	for _, r := range routes {
		lineByRoute[r.ID] = r.LineID
		if r.LineID == "" {
			lineByRoute[r.ID] = r.ID
		}
	}

	stops, err := reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("getting stops: %w", err)
	}
	codeByStop := make(map[string]string, len(stops))
	for _, s := range stops {
		codeByStop[s.ID] = s.Code
		if s.Code == "" {
			codeByStop[s.ID] = s.ID
		}
	}

	return &Static{
		Metadata:              metadata,
		Reader:                reader,
		production:            production,
		location:              location,
		minMaxStopSeqByTripID: minMaxStopSeqByTripID,
		maxDeparture:          maxDeparture,
		lineByRoute:           lineByRoute,
		codeByStop:            codeByStop,
	}, nil
}

// The date all calendar relative times of this feed count from.
func (s *Static) Production() time.Time {
	return s.production
}

func (s *Static) Location() *time.Location {
	return s.location
}

// Line a route belongs to.
func (s *Static) LineID(routeID string) string {
	if line, ok := s.lineByRoute[routeID]; ok {
		return line
	}
	return routeID
}

// Public code of a stop, falling back on its ID.
func (s *Static) StopCode(stopID string) string {
	if code, ok := s.codeByStop[stopID]; ok {
		return code
	}
	return stopID
}

// Converts an absolute time to calendar relative time, in the feed's
// timezone.
func (s *Static) Relative(t time.Time) clock.DateTime {
	local := t.In(s.location)
	day := clock.DaysBetween(s.production, local)
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, s.location)
	return clock.DateTime{
		Day:     day,
		Seconds: int(local.Sub(noon.Add(-12*time.Hour)) / time.Second),
	}.Normalize()
}

// Absolute time of a calendar relative time, in the feed's timezone.
func (s *Static) Absolute(dt clock.DateTime) time.Time {
	return dt.Time(s.production, s.location)
}

// Translates a time offset into a GTFS style HHMMSS string.
func gtfsTime(offset time.Duration) string {
	h := int(offset.Hours())
	m := int(offset.Minutes()) - h*60
	sec := int(offset.Seconds()) - h*3600 - m*60
	return fmt.Sprintf("%02d%02d%02d", h, m, sec)
}

// A service day to inspect, and the range of stop_time departures on
// that day that can fall in the window.
type span struct {
	Day   int
	Date  string
	Start string
	End   string
}

// Computes the service days, and the part of each, that must be
// inspected to find all departures in w.
func (s *Static) spans(w Window, depth int) []span {
	spans := []span{}

	if !w.From.Before(w.Until) {
		return spans
	}

	last := clock.FromAbs(w.Until.Abs() - 1).Day
	if limit := w.From.Normalize().Day + depth - 1; limit < last {
		last = limit
	}

	for day := w.From.Normalize().Day - 1; day <= last; day++ {
		base := day * clock.SecondsPerDay

		start := time.Duration(w.From.Abs()-base) * time.Second
		if start > s.maxDeparture {
			// Past the latest departure of the day's
			// trips, including overflow into next day.
			continue
		}
		if start < 0 {
			start = 0
		}

		end := time.Duration(w.Until.Abs()-base-1) * time.Second
		if end < 0 {
			continue
		}
		if end > s.maxDeparture {
			end = s.maxDeparture
		}

		spans = append(spans, span{
			Day:   day,
			Date:  clock.DateTime{Day: day}.DateString(s.production),
			Start: gtfsTime(start),
			End:   gtfsTime(end),
		})
	}

	return spans
}

// Returns scheduled departures for pair in w, ordered by time. The
// last stop of a trip is never included, since it's not a boardable
// departure.
func (s *Static) StopTimes(
	ctx context.Context,
	pair model.RoutePoint,
	w Window,
	depth int,
	level model.RTLevel,
) ([]model.Departure, error) {
	departures := []model.Departure{}

	for _, span := range s.spans(w, depth) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		serviceIDs, err := s.Reader.ActiveServices(span.Date)
		if err != nil {
			return nil, fmt.Errorf("getting active services on %s: %w", span.Date, err)
		}
		if len(serviceIDs) == 0 {
			continue
		}

		events, err := s.Reader.StopTimeEvents(storage.StopTimeEventFilter{
			StopID:         pair.StopID,
			RouteID:        pair.RouteID,
			ServiceIDs:     serviceIDs,
			DirectionID:    -1,
			DepartureStart: span.Start,
			DepartureEnd:   span.End,
		})
		if err != nil {
			return nil, fmt.Errorf("getting stop time events on %s: %w", span.Date, err)
		}

		for _, event := range events {
			minMaxSeq := s.minMaxStopSeqByTripID[event.Trip.ID]
			if event.StopTime.StopSequence >= minMaxSeq[1] {
				continue
			}

			t := clock.DateTime{
				Day:     span.Day,
				Seconds: int(event.StopTime.DepartureTime() / time.Second),
			}.Normalize()
			if !w.Contains(t) {
				continue
			}

			headsign := event.StopTime.Headsign
			if headsign == "" {
				headsign = event.Trip.Headsign
			}

			departures = append(departures, model.Departure{
				StopID:       event.Stop.ID,
				RouteID:      event.Trip.RouteID,
				LineID:       s.LineID(event.Trip.RouteID),
				TripID:       event.Trip.ID,
				StopSequence: event.StopTime.StopSequence,
				DirectionID:  event.Trip.DirectionID,
				Headsign:     headsign,
				Time:         t,
				ServiceDay:   span.Day,
				RTLevel:      model.RTLevelBaseSchedule,
			})
		}
	}

	sortDepartures(departures)

	return departures, nil
}

// Orders departures by time, then stop, route and trip.
func sortDepartures(departures []model.Departure) {
	sort.SliceStable(departures, func(i, j int) bool {
		a, b := departures[i], departures[j]
		if c := a.Time.Compare(b.Time); c != 0 {
			return c < 0
		}
		if a.StopID != b.StopID {
			return a.StopID < b.StopID
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		return a.TripID < b.TripID
	})
}
