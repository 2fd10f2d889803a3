package model

import (
	"strconv"
	"time"

	"tidbyt.dev/departureboard/clock"
)

// Holds all external facing types and constants.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

// Fidelity of departure times. Ordered: each level includes the
// information of the previous ones.
type RTLevel int

const (
	// Static schedule only.
	RTLevelBaseSchedule RTLevel = iota
	// Static schedule with cancellations and skipped stops applied.
	RTLevelAdapted
	// Adapted schedule with live delays and predictions applied.
	RTLevelRealtime
)

func (l RTLevel) String() string {
	switch l {
	case RTLevelBaseSchedule:
		return "base_schedule"
	case RTLevelAdapted:
		return "adapted"
	case RTLevelRealtime:
		return "realtime"
	}
	return "unknown"
}

func ParseRTLevel(s string) (RTLevel, bool) {
	switch s {
	case "base_schedule", "":
		return RTLevelBaseSchedule, true
	case "adapted":
		return RTLevelAdapted, true
	case "realtime":
		return RTLevelRealtime, true
	}
	return RTLevelBaseSchedule, false
}

// Result of looking up a calendar for a date.
type Operating int

const (
	OperatingUnknown Operating = iota
	OperatingYes
	OperatingNo
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Desc          string
	Lat           float64
	Lon           float64
	URL           string
	LocationType  LocationType
	ParentStation string
	PlatformCode  string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8
}

// A GTFS route. Routes sharing a LineID make up a line, which is the
// unit service windows (opening and closing times) are computed for.
type Route struct {
	ID        string
	AgencyID  string
	LineID    string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	URL       string
	Color     string
	TextColor string
}

type StopTime struct {
	TripID       string
	StopID       string
	Headsign     string
	StopSequence uint32
	Arrival      string
	Departure    string
}

// Parses a GTFS "HHMMSS" time into a duration since midnight. Hours
// may exceed 23. Malformed input yields 0.
func HHMMSS(s string) time.Duration {
	if len(s) < 6 {
		return 0
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	sec, _ := strconv.Atoi(s[4:6])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

func (st *StopTime) ArrivalTime() time.Duration {
	return HHMMSS(st.Arrival)
}

func (st *StopTime) DepartureTime() time.Duration {
	return HHMMSS(st.Departure)
}

// The atomic unit departures are queried for: a stop served by a
// route.
type RoutePoint struct {
	StopID  string
	RouteID string
}

// Opening and closing time of a line, from its earliest departure to
// its latest arrival. Closing may exceed 24h.
type LineWindow struct {
	LineID  string
	Opening time.Duration
	Closing time.Duration
}

// A vehicle departing from a stop point.
type Departure struct {
	StopID       string
	RouteID      string
	LineID       string
	TripID       string
	StopSequence uint32
	DirectionID  int8
	Headsign     string

	// Departure time, relative to the dataset's production date.
	Time clock.DateTime

	// Service day the trip belongs to. Differs from Time.Day for
	// trips running past midnight.
	ServiceDay int

	// Fidelity actually applied to Time.
	RTLevel RTLevel
	Delay   time.Duration

	Closed bool
}
