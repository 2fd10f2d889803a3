package departureboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/testutil"
)

// Departures at pair in [from, from+d), inspecting depth service
// days.
func stopTimes(
	t *testing.T,
	s *departureboard.Static,
	stopID, routeID string,
	from time.Time,
	d time.Duration,
	depth int,
) []model.Departure {
	f := s.Relative(from)
	departures, err := s.StopTimes(
		context.Background(),
		model.RoutePoint{StopID: stopID, RouteID: routeID},
		departureboard.Window{From: f, Until: f.Add(d)},
		depth,
		model.RTLevelBaseSchedule,
	)
	require.NoError(t, err)
	return departures
}

// A base schedule departure, as returned by Static.
func scheduled(
	s *departureboard.Static,
	stopID, routeID, tripID string,
	seq uint32,
	dir int8,
	at time.Time,
	serviceDate time.Time,
) model.Departure {
	return model.Departure{
		StopID:       stopID,
		RouteID:      routeID,
		LineID:       routeID,
		TripID:       tripID,
		StopSequence: seq,
		DirectionID:  dir,
		Time:         s.Relative(at),
		ServiceDay:   s.Relative(serviceDate).Day,
		RTLevel:      model.RTLevelBaseSchedule,
	}
}

func testStaticWindowing(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		// A weekdays only schedule
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"weekday,20200101,20201231,1,1,1,1,1,0,0",
		},
		// Two routes: L and F
		"routes.txt": {"route_id,route_short_name,route_type", "L,l,0", "F,f,0"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"3a,3a,1,1",
			"14,14,2,2",
			"6a,6a,3,3",
			"w4,w4,4,4",
			"23,23,5,5",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"LW1,L,weekday,1",
			"LE2,L,weekday,0",
			"LW2,L,weekday,1",
			"LE3,L,weekday,0",
			"FN1,F,weekday,1",
			"FS1,F,weekday,0",
		},
		// The L trips run 3rd ave - 14th st - 6th ave. F runs W4 - 14th - 23rd.
		"stop_times.txt": {
			"trip_id,stop_id,departure_time,arrival_time,stop_sequence",
			"LW1,3a,6:10:0,6:10:0,1",
			"LW1,14,6:12:0,6:12:0,2",
			"LW1,6a,6:14:0,6:14:0,3",
			"LE2,6a,6:22:0,6:22:0,100",
			"LE2,14,6:24:0,6:24:0,102",
			"LE2,3a,6:26:0,6:26:0,104",
			"LW2,3a,6:30:0,6:30:0,1",
			"LW2,14,6:32:0,6:32:0,2",
			"LW2,6a,6:34:0,6:34:0,3",
			"LE3,6a,6:42:0,6:42:0,1",
			"LE3,14,6:44:0,6:44:0,2",
			"LE3,3a,6:46:0,6:46:0,3",
			"FN1,w4,6:30:0,6:30:0,1",
			"FN1,14,6:35:0,6:35:0,2",
			"FN1,23,6:40:0,6:40:0,3",
			"FS1,23,6:45:0,6:45:0,10",
			"FS1,14,6:50:0,6:50:0,11",
			"FS1,w4,6:55:0,6:55:0,15",
		},
	})

	at := func(h, m int) time.Time {
		return time.Date(2020, 2, 4, h, m, 0, 0, time.UTC)
	}
	feb4 := at(0, 0)

	// Feb 4th is a Tuesday, so the weekday schedule applies.
	// Within 30 minutes of 6 AM, 14th street has 2 L train
	// departures.
	assert.Equal(t, []model.Departure{
		scheduled(s, "14", "L", "LW1", 2, 1, at(6, 12), feb4),
		scheduled(s, "14", "L", "LE2", 102, 0, at(6, 24), feb4),
	}, stopTimes(t, s, "14", "L", at(6, 0), 30*time.Minute, 1))

	// The F is a separate route point
	assert.Equal(t, []model.Departure{
		scheduled(s, "14", "F", "FN1", 2, 1, at(6, 35), feb4),
		scheduled(s, "14", "F", "FS1", 11, 0, at(6, 50), feb4),
	}, stopTimes(t, s, "14", "F", at(6, 10), 50*time.Minute, 1))

	// The window is half-open: 6:44 is excluded here...
	assert.Equal(t, []model.Departure{
		scheduled(s, "14", "L", "LW1", 2, 1, at(6, 12), feb4),
		scheduled(s, "14", "L", "LE2", 102, 0, at(6, 24), feb4),
		scheduled(s, "14", "L", "LW2", 2, 1, at(6, 32), feb4),
	}, stopTimes(t, s, "14", "L", at(6, 10), 34*time.Minute, 1))

	// ...and included here.
	assert.Equal(t, []model.Departure{
		scheduled(s, "14", "L", "LE3", 2, 0, at(6, 44), feb4),
	}, stopTimes(t, s, "14", "L", at(6, 44), time.Minute, 1))

	// Nothing before the first trip
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "14", "L", at(5, 0), time.Hour, 1))

	// Unknown stop
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "nope", "L", at(6, 0), time.Hour, 1))
}

func testStaticWeekendSchedule(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"weekday,20200101,20201231,1,1,1,1,1,0,0",
			"weekend,20200101,20201231,0,0,0,0,0,1,1",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "L,l,1"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"8a,8a,1,1",
			"6a,6a,2,2",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"WD,L,weekday,0",
			"WE,L,weekend,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"WD,8a,1,9:0:0,9:0:0",
			"WD,6a,2,9:5:0,9:5:0",
			"WE,8a,1,10:0:0,10:0:0",
			"WE,6a,2,10:5:0,10:5:0",
		},
	})

	// Feb 7th is a Friday, the 8th a Saturday
	feb7 := time.Date(2020, 2, 7, 0, 0, 0, 0, time.UTC)
	feb8 := time.Date(2020, 2, 8, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []model.Departure{
		scheduled(s, "8a", "L", "WD", 1, 0, feb7.Add(9*time.Hour), feb7),
	}, stopTimes(t, s, "8a", "L", feb7, 24*time.Hour, 1))

	assert.Equal(t, []model.Departure{
		scheduled(s, "8a", "L", "WE", 1, 0, feb8.Add(10*time.Hour), feb8),
	}, stopTimes(t, s, "8a", "L", feb8, 24*time.Hour, 1))

	// Both days at once
	assert.Equal(t, []model.Departure{
		scheduled(s, "8a", "L", "WD", 1, 0, feb7.Add(9*time.Hour), feb7),
		scheduled(s, "8a", "L", "WE", 1, 0, feb8.Add(10*time.Hour), feb8),
	}, stopTimes(t, s, "8a", "L", feb7, 48*time.Hour, 2))
}

func testStaticTimezones(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		// Eastern Time
		"agency.txt": {"agency_timezone,agency_name,agency_url", "America/New_York,MTA,http://example.com"},
		// Mondays only!
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"mondays,20200101,20201231,1,0,0,0,0,0,0",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "L,l,1"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"8a,8a,1,1",
			"6a,6a,2,2",
			"14,14,3,3",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"LE1,L,mondays,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"LE1,8a,1,9:0:0,9:0:0",
			"LE1,6a,2,9:5:0,9:5:0",
			"LE1,14,3,9:10:0,9:10:0",
		},
	})

	tzNYC, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	feb3 := time.Date(2020, 2, 3, 0, 0, 0, 0, tzNYC)
	expected := []model.Departure{
		scheduled(s, "6a", "L", "LE1", 2, 0, time.Date(2020, 2, 3, 9, 5, 0, 0, tzNYC), feb3),
	}

	// Querying using the transit agency's time zone
	departures := stopTimes(t, s, "6a", "L", time.Date(2020, 2, 3, 9, 0, 0, 0, tzNYC), 20*time.Minute, 1)
	assert.Equal(t, expected, departures)
	require.Equal(t, 1, len(departures))
	assert.True(t, s.Absolute(departures[0].Time).Equal(time.Date(2020, 2, 3, 14, 5, 0, 0, time.UTC)))

	// Querying using UTC, which in February 2020 is NYC+5
	assert.Equal(t, expected, stopTimes(t, s, "6a", "L", time.Date(2020, 2, 3, 14, 0, 0, 0, time.UTC), 20*time.Minute, 1))

	// This also works if we query for the preceding day, with a
	// large enough window and depth
	assert.Equal(t, expected, stopTimes(t, s, "6a", "L", time.Date(2020, 2, 2, 22, 0, 0, 0, time.UTC), 20*time.Hour, 2))
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "6a", "L", time.Date(2020, 2, 2, 22, 0, 0, 0, time.UTC), 20*time.Hour, 1))
}

func testStaticOvernightTrip(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"agency.txt": {"agency_timezone,agency_name,agency_url", "America/New_York,MTA,http://example.com"},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"weekend,20200101,20201231,0,0,0,0,0,1,1",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "L,l,0"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"8a,8a,1,2",
			"6a,6a,1,2",
			"14,14,1,2",
			"3a,3a,1,2",
			"1a,1a,1,2",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"LE1,L,weekend,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"LE1,8a,1,23:00:0,23:00:0",
			"LE1,6a,2,23:30:0,23:30:0",
			"LE1,14,3,24:00:0,24:00:0",
			"LE1,3a,4,24:30:0,24:30:0",
			"LE1,1a,5,24:35:0,24:35:0",
		},
	})

	tzNYC, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	feb9 := time.Date(2020, 2, 9, 0, 0, 0, 0, tzNYC)

	// Feb 9th is a Sunday. 3rd ave stop falls 00:30 on the 10th,
	// but is still part of the Feb 9th trip.
	expected := []model.Departure{
		scheduled(s, "3a", "L", "LE1", 4, 0, time.Date(2020, 2, 10, 0, 30, 0, 0, tzNYC), feb9),
	}
	departures := stopTimes(t, s, "3a", "L", time.Date(2020, 2, 9, 23, 30, 0, 0, tzNYC), 2*time.Hour, 2)
	assert.Equal(t, expected, departures)
	require.Equal(t, 1, len(departures))
	assert.Equal(t, departures[0].ServiceDay+1, departures[0].Time.Day)

	// It's also there if we query for departures on the 10th,
	// since the previous service day is always inspected.
	assert.Equal(t, expected, stopTimes(t, s, "3a", "L", time.Date(2020, 2, 10, 0, 15, 0, 0, tzNYC), 20*time.Minute, 1))

	// This works when we query with different timezone (UTC is
	// NYC+5)
	assert.Equal(t, expected, stopTimes(t, s, "3a", "L", time.Date(2020, 2, 10, 4, 30, 0, 0, time.UTC), 2*time.Hour, 1))
}

func testStaticCalendarDateOverride(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"agency.txt": {"agency_timezone,agency_name,agency_url", "America/New_York,MTA,http://example.com"},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"weekend,20200101,20201231,0,0,0,0,0,1,1",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "L,L,4"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"8a,8a,1,1",
			"6a,6a,2,2",
			"14,14,3,3",
			"3a,3a,4,4",
			"1a,1a,5,5",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"LE1,L,weekend,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"LE1,8a,1,23:00:0,23:00:0",
			"LE1,6a,2,23:30:0,23:30:0",
			"LE1,14,3,24:00:0,24:00:0",
			"LE1,3a,4,24:30:0,24:30:0",
			"LE1,1a,5,24:35:0,24:35:0",
		},
		// This removes service from Saturday the 8th and
		// Sunday the 16th. It adds service on Monday the
		// 24th.
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"weekend,20200208,2",
			"weekend,20200216,2",
			"weekend,20200224,1",
		},
	})

	tzNYC, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	date := func(d int) time.Time {
		return time.Date(2020, 2, d, 0, 0, 0, 0, tzNYC)
	}
	at := func(d, h, m int) time.Time {
		return time.Date(2020, 2, d, h, m, 0, 0, tzNYC)
	}

	// The 9th is still running, but the trips from the 8th
	// (including the ones spilling over into the 9th) are
	// disabled.
	assert.Equal(t, []model.Departure{
		scheduled(s, "8a", "L", "LE1", 1, 0, at(9, 23, 0), date(9)),
	}, stopTimes(t, s, "8a", "L", at(9, 22, 0), 2*time.Hour, 1))
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "8a", "L", at(8, 22, 0), 5*time.Hour, 2))
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "3a", "L", at(8, 22, 0), 5*time.Hour, 2))

	// The trips from the 16th are also disabled, including spill
	// over into the 17th. The 15th is still up though, including
	// spill over into the 16th.
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "8a", "L", at(16, 22, 0), 5*time.Hour, 2))
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "3a", "L", at(16, 22, 0), 5*time.Hour, 2))
	assert.Equal(t, []model.Departure{
		scheduled(s, "3a", "L", "LE1", 4, 0, at(16, 0, 30), date(15)),
	}, stopTimes(t, s, "3a", "L", at(15, 22, 0), 5*time.Hour, 2))

	// The added Monday the 24th is enabled, including spill over
	// into the the 25th. 25th remains disabled.
	assert.Equal(t, []model.Departure{
		scheduled(s, "8a", "L", "LE1", 1, 0, at(24, 23, 0), date(24)),
	}, stopTimes(t, s, "8a", "L", at(24, 22, 0), 5*time.Hour, 2))
	assert.Equal(t, []model.Departure{
		scheduled(s, "3a", "L", "LE1", 4, 0, at(25, 0, 30), date(24)),
	}, stopTimes(t, s, "3a", "L", at(24, 22, 0), 5*time.Hour, 2))
	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "8a", "L", at(25, 22, 0), 5*time.Hour, 2))
}

// Real world schedules provide departure_time for all stops, including
// the final stop on a trip. These aren't boardable departures.
func testStaticNoDepartureFromFinalStop(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20201231,1,1,1,1,1,1,1",
		},
		"routes.txt": {"route_id,route_long_name,route_type", "L,The L,1"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"8a,8a,1,1",
			"14,14,3,3",
			"3a,3a,4,4",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"LE1,L,everyday,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"LE1,8a,1,23:00:0,23:00:0",
			"LE1,14,3,24:00:0,24:00:0",
			"LE1,3a,4,24:30:0,24:30:0",
		},
	})

	feb9 := time.Date(2020, 2, 9, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []model.Departure{
		scheduled(s, "14", "L", "LE1", 3, 0, time.Date(2020, 2, 10, 0, 0, 0, 0, time.UTC), feb9),
	}, stopTimes(t, s, "14", "L", feb9.Add(23*time.Hour), 2*time.Hour, 2))

	assert.Equal(t, []model.Departure{}, stopTimes(t, s, "3a", "L", feb9.Add(23*time.Hour), 2*time.Hour, 2))
}

func testStaticDepth(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20201231,1,1,1,1,1,1,1",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "R,r,3"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"A,A,1,1",
			"B,B,2,2",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"T,R,everyday,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"T,A,1,10:0:0,10:0:0",
			"T,B,2,10:30:0,10:30:0",
		},
	})

	feb3 := time.Date(2020, 2, 3, 9, 0, 0, 0, time.UTC)
	window := 2*24*time.Hour + 2*time.Hour

	// Only as many service days as requested are inspected,
	// regardless of the window.
	assert.Equal(t, 1, len(stopTimes(t, s, "A", "R", feb3, window, 1)))
	assert.Equal(t, 2, len(stopTimes(t, s, "A", "R", feb3, window, 2)))

	departures := stopTimes(t, s, "A", "R", feb3, window, 3)
	require.Equal(t, 3, len(departures))
	for i, dep := range departures {
		assert.Equal(t, departures[0].ServiceDay+i, dep.ServiceDay)
		assert.Equal(t, 10*3600, dep.Time.Seconds)
	}
	assert.Equal(t, 3, len(stopTimes(t, s, "A", "R", feb3, window, 10)))
}

func testStaticHeadsignOverride(t *testing.T, backend string) {
	// A single trip on Mondays, going through the alphabet
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"mondays,20200101,20201231,1,0,0,0,0,0,0",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "alpha,alpha,3"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"A,A,1,2",
			"B,B,1,1",
			"C,C,2,2",
			"D,D,3,3",
			"E,E,4,4",
			"F,F,5,5",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id,trip_headsign",
			"alphabet,alpha,mondays,0,To Z",
		},
		"stop_times.txt": {
			"trip_id,stop_id,departure_time,arrival_time,stop_headsign,stop_sequence",
			"alphabet,A,6:10:0,6:10:0,,1",
			"alphabet,B,6:11:0,6:11:0,,2",
			"alphabet,C,6:12:0,6:12:0,,3",
			"alphabet,D,6:13:0,6:13:0,To F,4",
			"alphabet,E,6:14:0,6:14:0,To F,5",
			"alphabet,F,6:14:0,6:14:0,To nowhere,6",
		},
	})

	// Feb 3rd is a Monday.
	from := time.Date(2020, 2, 3, 6, 0, 0, 0, time.UTC)
	for _, test := range []struct {
		StopID           string
		ExpectedHeadsign string
	}{
		{"A", "To Z"},
		{"B", "To Z"},
		{"C", "To Z"},
		{"D", "To F"},
		{"E", "To F"},
	} {
		departures := stopTimes(t, s, test.StopID, "alpha", from, 30*time.Minute, 1)
		require.Equal(t, 1, len(departures))
		assert.Equal(t, test.StopID, departures[0].StopID)
		assert.Equal(t, test.ExpectedHeadsign, departures[0].Headsign)
	}

	// And nothing departs from F
	assert.Equal(t, 0, len(stopTimes(t, s, "F", "alpha", from, 30*time.Minute, 1)))
}

// Departures can be retrieved both for individual stops and for their
// parent stations.
func testStaticParentStations(t *testing.T, backend string) {
	s := testutil.BuildStatic(t, backend, map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"mondays,20200101,20201231,1,0,0,0,0,0,0",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "alpha,a,0"},
		"stops.txt": {
			"stop_id,stop_name,location_type,parent_station,stop_lat,stop_lon",
			"a,a,1,,1,1",  // a is a station
			"A,A,0,a,2,2", // A is a stop at a
			"B,B,0,,3,3",  // B is a stop, without parent
			"c,c,1,,4,4",  // c is a station
			"C,C,0,c,5,5", // C is a stop at c
			"E,E,0,,8,8",  // E is a stop, without parent
		},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id,trip_headsign",
			"alphabet,alpha,mondays,0,To Z",
		},
		"stop_times.txt": {
			"trip_id,stop_id,departure_time,arrival_time,stop_sequence",
			"alphabet,A,6:10:0,6:10:0,1",
			"alphabet,B,6:11:0,6:11:0,2",
			"alphabet,C,6:12:0,6:12:0,3",
			"alphabet,E,6:14:0,6:14:0,5",
		},
	})

	getDeps := func(stopID string) []model.Departure {
		// Feb 3rd is a Monday.
		return stopTimes(t, s, stopID, "alpha", time.Date(2020, 2, 3, 6, 0, 0, 0, time.UTC), 30*time.Minute, 1)
	}

	// Identical result hitting parent stations or individual stop
	assert.Equal(t, getDeps("A"), getDeps("a"))
	assert.Equal(t, getDeps("C"), getDeps("c"))

	assert.Equal(t, "A", getDeps("a")[0].StopID)
	assert.Equal(t, "B", getDeps("B")[0].StopID)
	assert.Equal(t, "C", getDeps("c")[0].StopID)
}

func TestStatic(t *testing.T) {
	for _, test := range []struct {
		Name string
		Test func(t *testing.T, backend string)
	}{
		{"Windowing", testStaticWindowing},
		{"WeekendSchedule", testStaticWeekendSchedule},
		{"Timezones", testStaticTimezones},
		{"OvernightTrip", testStaticOvernightTrip},
		{"CalendarDateOverride", testStaticCalendarDateOverride},
		{"NoDepartureFromFinalStop", testStaticNoDepartureFromFinalStop},
		{"Depth", testStaticDepth},
		{"HeadsignOverride", testStaticHeadsignOverride},
		{"ParentStations", testStaticParentStations},
	} {
		for _, backend := range testutil.Backends() {
			t.Run(test.Name+" "+backend, func(t *testing.T) {
				test.Test(t, backend)
			})
		}
	}
}

func TestStaticRelativeTime(t *testing.T) {
	s := testutil.BuildStatic(t, "memory", map[string][]string{
		"agency.txt": {"agency_timezone,agency_name,agency_url", "America/New_York,MTA,http://example.com"},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20201231,1,1,1,1,1,1,1",
		},
	})

	tzNYC, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), s.Production())
	assert.Equal(t, "America/New_York", s.Location().String())

	// Production date midnight, in the feed's timezone
	dt := s.Relative(time.Date(2020, 1, 1, 5, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, dt.Day)
	assert.Equal(t, 0, dt.Seconds)

	// Evening before the production date
	dt = s.Relative(time.Date(2020, 1, 1, 4, 0, 0, 0, time.UTC))
	assert.Equal(t, -1, dt.Day)
	assert.Equal(t, 23*3600, dt.Seconds)

	// March 8th 2020 is 23h long in New York. Offsets count from
	// noon minus 12h.
	at := time.Date(2020, 3, 8, 10, 0, 0, 0, tzNYC)
	dt = s.Relative(at)
	assert.Equal(t, 67, dt.Day)
	assert.Equal(t, 10*3600, dt.Seconds)
	assert.True(t, s.Absolute(dt).Equal(at))

	for _, at := range []time.Time{
		time.Date(2020, 2, 3, 9, 5, 0, 0, tzNYC),
		time.Date(2020, 7, 14, 23, 59, 59, 0, tzNYC),
		time.Date(2020, 11, 1, 1, 30, 0, 0, time.UTC),
	} {
		assert.True(t, s.Absolute(s.Relative(at)).Equal(at), at.String())
	}
}
