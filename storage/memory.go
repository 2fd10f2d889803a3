package storage

import (
	"fmt"
	"sort"
	"time"

	"tidbyt.dev/departureboard/model"
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
	delete(s.Metadata, memoryMetadataKey{url, hash})
	return nil
}

func (s *MemoryStorage) GetReader(feed string) (FeedReader, error) {
	f, ok := s.Feeds[feed]
	if !ok {
		return nil, fmt.Errorf("feed %s not found", feed)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feed string) (FeedWriter, error) {
	f := &MemoryStorageFeed{
		calendar:        map[string]*model.Calendar{},
		calendarDate:    map[string][]*model.CalendarDate{},
		routes:          map[string]*model.Route{},
		agency:          map[string]*model.Agency{},
		stops:           map[string]*model.Stop{},
		stopsByParent:   map[string][]*model.Stop{},
		trips:           map[string]*model.Trip{},
		stopTimesByTrip: map[string][]*model.StopTime{},
		stopTimesByStop: map[string][]*model.StopTime{},
		minMaxStopSeq:   map[string][2]uint32{},
	}

	s.Feeds[feed] = f

	return f, nil
}

// A single feed held in memory. Written once by a FeedWriter, then
// only read, so concurrent readers need no locking.
type MemoryStorageFeed struct {
	calendar        map[string]*model.Calendar
	calendarDate    map[string][]*model.CalendarDate
	routes          map[string]*model.Route
	agency          map[string]*model.Agency
	stops           map[string]*model.Stop
	stopsByParent   map[string][]*model.Stop
	trips           map[string]*model.Trip
	stopTimesByTrip map[string][]*model.StopTime
	stopTimesByStop map[string][]*model.StopTime
	minMaxStopSeq   map[string][2]uint32
	routePoints     []model.RoutePoint
	lineWindows     map[string]model.LineWindow
}

func (f *MemoryStorageFeed) WriteAgency(agency *model.Agency) error {
	f.agency[agency.ID] = agency
	return nil
}

func (f *MemoryStorageFeed) WriteStop(stop *model.Stop) error {
	f.stops[stop.ID] = stop
	if stop.ParentStation != "" {
		f.stopsByParent[stop.ParentStation] = append(f.stopsByParent[stop.ParentStation], stop)
	}
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route *model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryStorageFeed) BeginTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip *model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryStorageFeed) EndTrips() error {
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime *model.StopTime) error {
	f.stopTimesByTrip[stopTime.TripID] = append(f.stopTimesByTrip[stopTime.TripID], stopTime)
	f.stopTimesByStop[stopTime.StopID] = append(f.stopTimesByStop[stopTime.StopID], stopTime)

	mms, found := f.minMaxStopSeq[stopTime.TripID]
	if !found {
		f.minMaxStopSeq[stopTime.TripID] = [2]uint32{stopTime.StopSequence, stopTime.StopSequence}
	} else {
		if stopTime.StopSequence < mms[0] {
			mms[0] = stopTime.StopSequence
		}
		if stopTime.StopSequence > mms[1] {
			mms[1] = stopTime.StopSequence
		}
		f.minMaxStopSeq[stopTime.TripID] = mms
	}

	return nil
}

// Precomputes route points and line windows, which are needed on
// every request.
func (f *MemoryStorageFeed) EndStopTimes() error {
	seen := map[model.RoutePoint]bool{}
	f.routePoints = []model.RoutePoint{}
	f.lineWindows = map[string]model.LineWindow{}

	for tripID, sts := range f.stopTimesByTrip {
		trip, found := f.trips[tripID]
		if !found {
			continue
		}

		lineID := trip.RouteID
		if route, found := f.routes[trip.RouteID]; found && route.LineID != "" {
			lineID = route.LineID
		}

		for _, st := range sts {
			rp := model.RoutePoint{StopID: st.StopID, RouteID: trip.RouteID}
			if !seen[rp] {
				seen[rp] = true
				f.routePoints = append(f.routePoints, rp)
			}

			lw, found := f.lineWindows[lineID]
			if !found {
				lw = model.LineWindow{
					LineID:  lineID,
					Opening: st.DepartureTime(),
					Closing: st.ArrivalTime(),
				}
			}
			if dep := st.DepartureTime(); dep < lw.Opening {
				lw.Opening = dep
			}
			if arr := st.ArrivalTime(); arr > lw.Closing {
				lw.Closing = arr
			}
			f.lineWindows[lineID] = lw
		}
	}

	sortRoutePoints(f.routePoints)

	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(row *model.Calendar) error {
	f.calendar[row.ServiceID] = row
	return nil
}

func (f *MemoryStorageFeed) WriteCalendarDate(row *model.CalendarDate) error {
	f.calendarDate[row.ServiceID] = append(f.calendarDate[row.ServiceID], row)
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Agencies() ([]*model.Agency, error) {
	agencies := []*model.Agency{}
	for _, v := range f.agency {
		agencies = append(agencies, v)
	}
	return agencies, nil
}

func (f *MemoryStorageFeed) Stops() ([]*model.Stop, error) {
	stops := []*model.Stop{}
	for _, v := range f.stops {
		stops = append(stops, v)
	}
	return stops, nil
}

func (f *MemoryStorageFeed) Routes() ([]*model.Route, error) {
	routes := []*model.Route{}
	for _, v := range f.routes {
		routes = append(routes, v)
	}
	return routes, nil
}

func (f *MemoryStorageFeed) Trips() ([]*model.Trip, error) {
	trips := []*model.Trip{}
	for _, v := range f.trips {
		trips = append(trips, v)
	}
	return trips, nil
}

func (f *MemoryStorageFeed) Calendars() ([]*model.Calendar, error) {
	cals := []*model.Calendar{}
	for _, v := range f.calendar {
		cals = append(cals, v)
	}
	return cals, nil
}

func (f *MemoryStorageFeed) CalendarDates() ([]*model.CalendarDate, error) {
	cds := []*model.CalendarDate{}
	for _, v := range f.calendarDate {
		cds = append(cds, v...)
	}
	return cds, nil
}

func (f *MemoryStorageFeed) ActiveServices(date string) ([]string, error) {
	services := map[string]bool{}

	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	for _, calendar := range f.calendar {
		if calendar.Weekday&(1<<parsedDate.Weekday()) == 0 {
			continue
		}
		if calendar.StartDate > date {
			continue
		}
		if calendar.EndDate < date {
			continue
		}
		services[calendar.ServiceID] = true
	}

	for _, cds := range f.calendarDate {
		for _, cd := range cds {
			if cd.Date != date {
				continue
			}
			switch cd.ExceptionType {
			case model.ExceptionTypeAdded:
				services[cd.ServiceID] = true
			case model.ExceptionTypeRemoved:
				services[cd.ServiceID] = false
			}
		}
	}

	activeServices := []string{}
	for serviceID, active := range services {
		if active {
			activeServices = append(activeServices, serviceID)
		}
	}
	sort.Strings(activeServices)

	return activeServices, nil
}

func (f *MemoryStorageFeed) CalendarOperating(calendarID string, date string) (model.Operating, error) {
	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return model.OperatingUnknown, fmt.Errorf("invalid date: %s", date)
	}

	cds, hasExceptions := f.calendarDate[calendarID]
	for _, cd := range cds {
		if cd.Date != date {
			continue
		}
		switch cd.ExceptionType {
		case model.ExceptionTypeAdded:
			return model.OperatingYes, nil
		case model.ExceptionTypeRemoved:
			return model.OperatingNo, nil
		}
	}

	cal, found := f.calendar[calendarID]
	if !found {
		if hasExceptions {
			// Services defined by calendar_dates alone run
			// only on their listed dates.
			return model.OperatingNo, nil
		}
		return model.OperatingUnknown, nil
	}

	return calendarRangeOperating(cal, date, parsedDate.Weekday()), nil
}

func (f *MemoryStorageFeed) MinMaxStopSeq() (map[string][2]uint32, error) {
	return f.minMaxStopSeq, nil
}

func (f *MemoryStorageFeed) RoutePoints() ([]model.RoutePoint, error) {
	return append([]model.RoutePoint{}, f.routePoints...), nil
}

func (f *MemoryStorageFeed) LineWindows() (map[string]model.LineWindow, error) {
	windows := make(map[string]model.LineWindow, len(f.lineWindows))
	for k, v := range f.lineWindows {
		windows[k] = v
	}
	return windows, nil
}

func (f *MemoryStorageFeed) StopTimeEvents(filter StopTimeEventFilter) ([]*StopTimeEvent, error) {
	var stopTimes []*model.StopTime

	if filter.StopID != "" {
		// The StopID filter must also apply to parent
		// stations, in case caller is referring to a Station
		// holding (potentially) multiple Stops
		stop, found := f.stops[filter.StopID]
		if !found {
			return []*StopTimeEvent{}, nil
		}

		if stop.LocationType == model.LocationTypeStation {
			for _, s := range f.stopsByParent[filter.StopID] {
				stopTimes = append(stopTimes, f.stopTimesByStop[s.ID]...)
			}
		} else {
			stopTimes = f.stopTimesByStop[filter.StopID]
		}
	} else {
		for _, v := range f.stopTimesByTrip {
			stopTimes = append(stopTimes, v...)
		}
	}

	routeTypes := map[model.RouteType]bool{}
	for _, rt := range filter.RouteTypes {
		routeTypes[rt] = true
	}

	serviceIDs := map[string]bool{}
	for _, sid := range filter.ServiceIDs {
		serviceIDs[sid] = true
	}

	tripIDs := map[string]bool{}
	for _, tid := range filter.TripIDs {
		tripIDs[tid] = true
	}

	events := []*StopTimeEvent{}

	for _, st := range stopTimes {
		if filter.DepartureStart != "" && st.Departure < filter.DepartureStart {
			continue
		}
		if filter.DepartureEnd != "" && st.Departure > filter.DepartureEnd {
			continue
		}
		if len(tripIDs) > 0 && !tripIDs[st.TripID] {
			continue
		}

		trip, found := f.trips[st.TripID]
		if !found {
			continue
		}
		if filter.RouteID != "" && trip.RouteID != filter.RouteID {
			continue
		}
		if filter.DirectionID != -1 && int(trip.DirectionID) != filter.DirectionID {
			continue
		}
		if len(serviceIDs) > 0 && !serviceIDs[trip.ServiceID] {
			continue
		}

		route := f.routes[trip.RouteID]
		if len(routeTypes) > 0 && (route == nil || !routeTypes[route.Type]) {
			continue
		}

		var parentStation *model.Stop
		stop := f.stops[st.StopID]
		if stop != nil && stop.ParentStation != "" {
			parentStation = f.stops[stop.ParentStation]
		}

		events = append(events, &StopTimeEvent{
			StopTime:      st,
			Trip:          trip,
			Route:         route,
			Stop:          stop,
			ParentStation: parentStation,
		})
	}

	sortEvents(events)

	return events, nil
}
