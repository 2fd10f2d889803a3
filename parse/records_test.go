package parse

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

func newFeed(t *testing.T) (storage.FeedWriter, storage.FeedReader) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)
	reader, err := s.GetReader("test")
	require.NoError(t, err)
	return writer, reader
}

func TestParseAgency(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		ids      map[string]bool
		timezone string
		err      bool
	}{
		{
			"single agency without id",
			"agency_name,agency_url,agency_timezone\nA,http://a/,Europe/Paris",
			map[string]bool{"": true},
			"Europe/Paris",
			false,
		},
		{
			"multiple agencies",
			"agency_id,agency_name,agency_url,agency_timezone\n1,A,http://a/,Europe/Paris\n2,B,http://b/,Europe/Paris",
			map[string]bool{"1": true, "2": true},
			"Europe/Paris",
			false,
		},
		{"no records", "agency_name,agency_url,agency_timezone", nil, "", true},
		{"mixed timezones", "agency_id,agency_name,agency_url,agency_timezone\n1,A,http://a/,Europe/Paris\n2,B,http://b/,Europe/London", nil, "", true},
		{"bad timezone", "agency_name,agency_url,agency_timezone\nA,http://a/,Mars/Olympus", nil, "", true},
		{"missing name", "agency_name,agency_url,agency_timezone\n,http://a/,Europe/Paris", nil, "", true},
		{"duplicate id", "agency_id,agency_name,agency_url,agency_timezone\n1,A,http://a/,Europe/Paris\n1,B,http://b/,Europe/Paris", nil, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, reader := newFeed(t)
			ids, tz, err := ParseAgency(writer, strings.NewReader(tc.content))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ids, ids)
			assert.Equal(t, tc.timezone, tz)

			agencies, err := reader.Agencies()
			require.NoError(t, err)
			assert.Len(t, agencies, len(tc.ids))
		})
	}
}

func TestParseRoutes(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		agencies map[string]bool
		routes   []*model.Route
		err      bool
	}{
		{
			"line defaults to route",
			"route_id,route_short_name,route_type\n1,1,3",
			map[string]bool{},
			[]*model.Route{{ID: "1", LineID: "1", ShortName: "1", Type: 3, Color: "FFFFFF", TextColor: "000000"}},
			false,
		},
		{
			"routes grouped into line",
			"route_id,route_long_name,route_type,line_id,route_color\na,A,1,M1,FFCE00\nb,B,1,M1,FFCE00",
			map[string]bool{},
			[]*model.Route{
				{ID: "a", LineID: "M1", LongName: "A", Type: 1, Color: "FFCE00", TextColor: "000000"},
				{ID: "b", LineID: "M1", LongName: "B", Type: 1, Color: "FFCE00", TextColor: "000000"},
			},
			false,
		},
		{
			"extended route type",
			"route_id,route_short_name,route_type\nx,X,700",
			map[string]bool{},
			[]*model.Route{{ID: "x", LineID: "x", ShortName: "X", Type: 700, Color: "FFFFFF", TextColor: "000000"}},
			false,
		},
		{"illegal route type", "route_id,route_short_name,route_type\nx,X,9", map[string]bool{}, nil, true},
		{"missing names", "route_id,route_type\nx,3", map[string]bool{}, nil, true},
		{"bad color", "route_id,route_short_name,route_type,route_color\nx,X,3,red", map[string]bool{}, nil, true},
		{"repeated route_id", "route_id,route_short_name,route_type\nr1,one,3\nr1,two,3", map[string]bool{}, nil, true},
		{"unknown agency_id", "route_id,agency_id,route_short_name,route_type\nr1,a1,one,3", map[string]bool{"b1": true}, nil, true},
		{
			"multiple agencies, one missing id",
			"route_id,agency_id,route_short_name,route_type\nr1,a1,one,3\nr2,,two,3",
			map[string]bool{"a1": true, "": true},
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, reader := newFeed(t)

			routeIDs, err := ParseRoutes(writer, strings.NewReader(tc.content), tc.agencies)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			routes, err := reader.Routes()
			require.NoError(t, err)
			sort.Slice(routes, func(i, j int) bool {
				return routes[i].ID < routes[j].ID
			})
			assert.Equal(t, tc.routes, routes)

			for _, route := range tc.routes {
				assert.True(t, routeIDs[route.ID])
			}
		})
	}
}

func TestParseStops(t *testing.T) {
	writer, reader := newFeed(t)
	ids, err := ParseStops(writer, strings.NewReader(`stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station,platform_code
station,Gare,48.1,2.1,1,,
p1,Gare quai 1,48.1,2.1,0,station,1
node,,,,3,station,`))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"station": true, "p1": true, "node": true}, ids)

	stops, err := reader.Stops()
	require.NoError(t, err)
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
	assert.Equal(t, &model.Stop{
		ID:            "p1",
		Name:          "Gare quai 1",
		Lat:           48.1,
		Lon:           2.1,
		ParentStation: "station",
		PlatformCode:  "1",
	}, stops[1])

	for name, content := range map[string]string{
		"unknown parent":    "stop_id,stop_name,stop_lat,stop_lon,parent_station\ns,S,1,1,nope",
		"missing name":      "stop_id,stop_name,stop_lat,stop_lon\ns,,1,1",
		"missing position":  "stop_id,stop_name,stop_lat,stop_lon\ns,S,,",
		"repeated id":       "stop_id,stop_name,stop_lat,stop_lon\ns,S,1,1\ns,T,1,1",
		"bad location type": "stop_id,stop_name,stop_lat,stop_lon,location_type\ns,S,1,1,9",
		"empty id":          "stop_id,stop_name,stop_lat,stop_lon\n,S,1,1",
	} {
		t.Run(name, func(t *testing.T) {
			writer, _ := newFeed(t)
			_, err := ParseStops(writer, strings.NewReader(content))
			assert.Error(t, err)
		})
	}
}

func TestParseTrips(t *testing.T) {
	routes := map[string]bool{"r": true}
	services := map[string]bool{"s": true}

	writer, reader := newFeed(t)
	ids, err := ParseTrips(writer, strings.NewReader("trip_id,route_id,service_id,trip_headsign,direction_id\nt1,r,s,North,0\nt2,r,s,South,1"), routes, services)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"t1": true, "t2": true}, ids)

	trips, err := reader.Trips()
	require.NoError(t, err)
	assert.Len(t, trips, 2)

	for name, content := range map[string]string{
		"unknown route":   "trip_id,route_id,service_id\nt,x,s",
		"unknown service": "trip_id,route_id,service_id\nt,r,x",
		"repeated trip":   "trip_id,route_id,service_id\nt,r,s\nt,r,s",
		"bad direction":   "trip_id,route_id,service_id,direction_id\nt,r,s,2",
		"empty trip_id":   "trip_id,route_id,service_id\n,r,s",
	} {
		t.Run(name, func(t *testing.T) {
			writer, _ := newFeed(t)
			_, err := ParseTrips(writer, strings.NewReader(content), routes, services)
			assert.Error(t, err)
		})
	}
}

func TestParseCalendar(t *testing.T) {
	writer, reader := newFeed(t)
	services, minDate, maxDate, err := ParseCalendar(writer, strings.NewReader(`service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
weekdays,1,1,1,1,1,0,0,20240101,20240630
weekend,0,0,0,0,0,1,1,20240301,20241231`))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"weekdays": true, "weekend": true}, services)
	assert.Equal(t, "20240101", minDate)
	assert.Equal(t, "20241231", maxDate)

	cals, err := reader.Calendars()
	require.NoError(t, err)
	sort.Slice(cals, func(i, j int) bool { return cals[i].ServiceID < cals[j].ServiceID })
	assert.Equal(t, int8(1<<time.Monday|1<<time.Tuesday|1<<time.Wednesday|1<<time.Thursday|1<<time.Friday), cals[0].Weekday)
	assert.Equal(t, int8(1<<time.Saturday|1<<time.Sunday), cals[1].Weekday)

	for name, content := range map[string]string{
		"bad weekday value": "service_id,monday,start_date,end_date\ns,2,20240101,20240102",
		"bad start date":    "service_id,monday,start_date,end_date\ns,1,2024-01-01,20240102",
		"ends before start": "service_id,monday,start_date,end_date\ns,1,20240105,20240102",
		"repeated service":  "service_id,monday,start_date,end_date\ns,1,20240101,20240102\ns,1,20240101,20240102",
		"empty service":     "service_id,monday,start_date,end_date\n,1,20240101,20240102",
	} {
		t.Run(name, func(t *testing.T) {
			writer, _ := newFeed(t)
			_, _, _, err := ParseCalendar(writer, strings.NewReader(content))
			assert.Error(t, err)
		})
	}
}

func TestParseCalendarDates(t *testing.T) {
	writer, reader := newFeed(t)
	services, minDate, maxDate, err := ParseCalendarDates(writer, strings.NewReader(`service_id,date,exception_type
s,20240105,1
s,20240103,2
u,20240110,1`))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"s": true, "u": true}, services)
	assert.Equal(t, "20240103", minDate)
	assert.Equal(t, "20240110", maxDate)

	cds, err := reader.CalendarDates()
	require.NoError(t, err)
	assert.Len(t, cds, 3)

	for name, content := range map[string]string{
		"bad exception type": "service_id,date,exception_type\ns,20240101,3",
		"bad date":           "service_id,date,exception_type\ns,20241301,1",
		"duplicate":          "service_id,date,exception_type\ns,20240101,1\ns,20240101,2",
	} {
		t.Run(name, func(t *testing.T) {
			writer, _ := newFeed(t)
			_, _, _, err := ParseCalendarDates(writer, strings.NewReader(content))
			assert.Error(t, err)
		})
	}
}

func TestParseStopTimes(t *testing.T) {
	trips := map[string]bool{"t": true}
	stops := map[string]bool{"a": true, "b": true, "c": true}

	writer, reader := newFeed(t)
	require.NoError(t, writer.BeginStopTimes())
	maxArr, maxDep, err := ParseStopTimes(writer, strings.NewReader(`trip_id,arrival_time,departure_time,stop_id,stop_sequence,stop_headsign
t,8:00:00,08:01:00,a,1,
t,,23:59:00,b,2,Downtown
t,24:30:00,,c,3,`), trips, stops)
	require.NoError(t, err)
	require.NoError(t, writer.EndStopTimes())
	assert.Equal(t, "243000", maxArr)
	assert.Equal(t, "243000", maxDep)

	mms, err := reader.MinMaxStopSeq()
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{1, 3}, mms["t"])

	for name, content := range map[string]string{
		"unknown trip":       "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nx,08:00:00,08:00:00,a,1",
		"unknown stop":       "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt,08:00:00,08:00:00,x,1",
		"missing stop":       "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt,08:00:00,08:00:00,,1",
		"bad minute":         "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt,08:60:00,08:00:00,a,1",
		"bad format":         "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt,0800,08:00:00,a,1",
		"duplicate sequence": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt,08:00:00,08:00:00,a,1\nt,09:00:00,09:00:00,b,1",
	} {
		t.Run(name, func(t *testing.T) {
			writer, _ := newFeed(t)
			_, _, err := ParseStopTimes(writer, strings.NewReader(content), trips, stops)
			assert.Error(t, err)
		})
	}
}

func TestParseStopTimeTime(t *testing.T) {
	for in, expected := range map[string]string{
		"00:00:00": "000000",
		"8:05:09":  "080509",
		"23:59:59": "235959",
		"25:00:00": "250000",
		" 7:00:00": "070000",
	} {
		actual, err := parseStopTimeTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, actual, in)
	}

	for _, in := range []string{"", "12:00", "aa:00:00", "12:00:60", "100:00:00"} {
		_, err := parseStopTimeTime(in)
		assert.Error(t, err, in)
	}
}

func TestIDSet(t *testing.T) {
	ids := idSet{}
	require.NoError(t, ids.declare("stop_id", "a"))
	require.NoError(t, ids.declare("stop_id", "b"))

	err := ids.declare("stop_id", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated stop_id 'a'")

	err = ids.declare("stop_id", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty stop_id")

	assert.NoError(t, ids.require("parent_station", "b"))
	err = ids.require("parent_station", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent_station 'c'")

	assert.Equal(t, map[string]bool{"a": true, "b": true}, map[string]bool(ids))
}
