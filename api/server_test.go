package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/api"
	"tidbyt.dev/departureboard/storage"
	"tidbyt.dev/departureboard/testutil"
)

func apiFixture(t *testing.T) *api.Server {
	static := testutil.BuildStatic(t, "memory", map[string][]string{
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"everyday,20200101,20201231,1,1,1,1,1,1,1",
		},
		"routes.txt": {"route_id,route_short_name,route_type", "L,l,1"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"a,A,1,1",
			"b,B,2,2",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,trip_headsign,direction_id",
			"t1,L,everyday,To B,0",
			"t2,L,everyday,To B,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,departure_time,arrival_time",
			"t1,a,1,10:00:00,10:00:00",
			"t1,b,2,10:10:00,10:10:00",
			"t2,a,1,10:30:00,10:30:00",
			"t2,b,2,10:40:00,10:40:00",
		},
	})

	m := departureboard.NewManager(storage.NewMemoryStorage())
	engine, err := m.LoadEngine(static, static, departureboard.DefaultEngineConfig())
	require.NoError(t, err)

	backend := &api.Backend{Engine: engine, Static: static}
	return api.New(
		func(ctx context.Context) (*api.Backend, error) { return backend, nil },
		api.WithClock(func() time.Time { return time.Date(2020, 3, 1, 9, 0, 0, 0, time.UTC) }),
		api.WithStatus("proxy", func() any { return map[string]string{"state": "closed"} }),
	)
}

func get(t *testing.T, s *api.Server, path string, params url.Values) (int, []byte) {
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func getBoard(t *testing.T, s *api.Server, path string, params url.Values) api.Response {
	status, body := get(t, s, path, params)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp api.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func getError(t *testing.T, s *api.Server, path string, params url.Values) string {
	status, body := get(t, s, path, params)
	require.Equal(t, http.StatusBadRequest, status, string(body))

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error
}

func trips(resp api.Response) []string {
	ids := []string{}
	for _, dep := range resp.Departures {
		ids = append(ids, dep.Trip)
	}
	return ids
}

func TestDepartures(t *testing.T) {
	s := apiFixture(t)

	resp := getBoard(t, s, "/departures", url.Values{
		"filter":        {`stop_point.id == "a"`},
		"from_datetime": {"20200301T090000"},
		"duration":      {"PT2H"},
	})
	require.Equal(t, []string{"t1", "t2"}, trips(resp))
	assert.Equal(t, api.Departure{
		StopPoint: "a",
		Route:     "L",
		Line:      "L",
		Trip:      "t1",
		Headsign:  "To B",
		DateTime:  "20200301T100000",
		Time:      time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC),
		RTLevel:   "base_schedule",
	}, resp.Departures[0])
	assert.Equal(t, departureboard.Pagination{
		StartPage:    0,
		ItemsPerPage: 10,
		ItemsOnPage:  2,
		TotalResult:  2,
	}, resp.Pagination)

	// Bounded by until_datetime
	resp = getBoard(t, s, "/departures", url.Values{
		"filter":         {`stop_point.id == "a"`},
		"from_datetime":  {"20200301T090000"},
		"until_datetime": {"20200301T102000"},
	})
	assert.Equal(t, []string{"t1"}, trips(resp))

	// Defaults to now, bounded by count
	resp = getBoard(t, s, "/departures", url.Values{
		"filter":    {`stop_point.id == "a"`},
		"max_count": {"1"},
	})
	assert.Equal(t, []string{"t1"}, trips(resp))

	// Paginated
	resp = getBoard(t, s, "/departures", url.Values{
		"filter":        {`stop_point.id == "a"`},
		"from_datetime": {"20200301T090000"},
		"duration":      {"2h"},
		"count":         {"1"},
		"start_page":    {"1"},
	})
	assert.Equal(t, []string{"t2"}, trips(resp))
	assert.Equal(t, 2, resp.Pagination.TotalResult)

	// The final stop of a trip has no departures
	resp = getBoard(t, s, "/departures", url.Values{
		"filter":        {`stop_point.id == "b"`},
		"from_datetime": {"20200301T090000"},
		"duration":      {"PT2H"},
	})
	assert.Equal(t, []string{}, trips(resp))
}

func TestDeparturesInvalidRequest(t *testing.T) {
	s := apiFixture(t)

	for _, tc := range []struct {
		Name     string
		Params   url.Values
		Expected string
	}{
		{
			"no termination",
			url.Values{"filter": {`stop_point.id == "a"`}},
			"departures / ",
		},
		{
			"invalid count",
			url.Values{"filter": {`stop_point.id == "a"`}, "duration": {"PT1H"}, "count": {"0"}},
			"departures / invalid Count: 0",
		},
		{
			"non numeric count",
			url.Values{"filter": {`stop_point.id == "a"`}, "duration": {"PT1H"}, "count": {"many"}},
			"parameter count should be an integer",
		},
		{
			"unknown rt level",
			url.Values{"filter": {`stop_point.id == "a"`}, "duration": {"PT1H"}, "rt_level": {"live"}},
			"unknown rt_level 'live'",
		},
		{
			"bad duration",
			url.Values{"filter": {`stop_point.id == "a"`}, "duration": {"soon"}},
			"departures / ",
		},
		{
			"negative max count",
			url.Values{"filter": {`stop_point.id == "a"`}, "max_count": {"-1"}},
			"departures / invalid MaxCount: -1",
		},
		{
			"bad datetime",
			url.Values{"filter": {`stop_point.id == "a"`}, "from_datetime": {"tomorrow"}, "max_count": {"1"}},
			"departures / ",
		},
		{
			"bad filter",
			url.Values{"filter": {`stop_point.id ==`}, "duration": {"PT1H"}},
			"departures / ",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Contains(t, getError(t, s, "/departures", tc.Params), tc.Expected)
		})
	}
}

func TestRouteSchedules(t *testing.T) {
	s := apiFixture(t)

	resp := getBoard(t, s, "/route_schedules", url.Values{
		"filter":        {`route.id == "L"`},
		"from_datetime": {"20200301T120000"},
	})

	// The whole day, regardless of time of day
	assert.Equal(t, []string{"t1", "t2"}, trips(resp))
	assert.Equal(t, "20200301T100000", resp.Departures[0].DateTime)
}

func TestTerminusSchedules(t *testing.T) {
	s := apiFixture(t)

	resp := getBoard(t, s, "/terminus_schedules", url.Values{
		"route_points":  {"a|L"},
		"from_datetime": {"20200302T000000"},
	})
	assert.Equal(t, []string{"t1", "t2"}, trips(resp))
	assert.Equal(t, "20200302T103000", resp.Departures[1].DateTime)

	msg := getError(t, s, "/terminus_schedules", url.Values{"route_points": {"a"}})
	assert.Contains(t, msg, "not on form")
}

func TestStatus(t *testing.T) {
	s := apiFixture(t)

	status, body := get(t, s, "/status", url.Values{})
	require.Equal(t, http.StatusOK, status)

	var report struct {
		Feed struct {
			Timezone   string `json:"timezone"`
			Production string `json:"production_date"`
		} `json:"feed"`
		Proxy map[string]string `json:"proxy"`
	}
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, "UTC", report.Feed.Timezone)
	assert.Equal(t, "20200101", report.Feed.Production)
	assert.Equal(t, "closed", report.Proxy["state"])
}

func TestSourceUnavailable(t *testing.T) {
	s := api.New(func(ctx context.Context) (*api.Backend, error) {
		return nil, errors.New("no active feed found")
	})

	status, body := get(t, s, "/departures", url.Values{"filter": {""}})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "no active feed found")
}
