package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	Headsign      string `csv:"stop_headsign"`
}

// Converts "H:MM:SS" or "HH:MM:SS" into "HHMMSS". Hours past 23 are
// kept, they denote service after midnight.
func parseStopTimeTime(s string) (string, error) {
	var h, m, sec int
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("found %d parts in '%s'", len(parts), s)
	}
	for i, dst := range []*int{&h, &m, &sec} {
		v, err := strconv.Atoi(parts[i])
		if err != nil || v < 0 {
			return "", fmt.Errorf("invalid component %d in '%s'", i, s)
		}
		*dst = v
	}
	if h > 99 || m > 59 || sec > 59 {
		return "", fmt.Errorf("out of range: '%s'", s)
	}
	return fmt.Sprintf("%02d%02d%02d", h, m, sec), nil
}

// Arrival and departure may each be omitted if the other is present,
// in which case they're taken to be the same.
func (st *StopTimeCSV) stopTime(trips, stops idSet) (*model.StopTime, error) {
	if err := trips.require("trip_id", st.TripID); err != nil {
		return nil, err
	}
	if st.StopID == "" {
		return nil, errors.New("missing stop_id")
	}
	if err := stops.require("stop_id", st.StopID); err != nil {
		return nil, err
	}

	arrival, departure := st.ArrivalTime, st.DepartureTime
	if arrival == "" {
		arrival = departure
	}
	if departure == "" {
		departure = arrival
	}

	arrival, err := parseStopTimeTime(arrival)
	if err != nil {
		return nil, errors.Wrap(err, "parsing arrival_time")
	}
	departure, err = parseStopTimeTime(departure)
	if err != nil {
		return nil, errors.Wrap(err, "parsing departure_time")
	}

	return &model.StopTime{
		TripID:       st.TripID,
		StopID:       st.StopID,
		Headsign:     st.Headsign,
		StopSequence: st.StopSequence,
		Arrival:      arrival,
		Departure:    departure,
	}, nil
}

// Parses stop_times.txt. Returns the latest arrival and departure
// time seen, as "HHMMSS".
func ParseStopTimes(
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
) (string, string, error) {
	type tripStop struct {
		tripID string
		seq    uint32
	}
	seen := map[tripStop]bool{}

	maxArrival, maxDeparture := "000000", "000000"

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		row++

		stopTime, err := st.stopTime(trips, stops)
		if err != nil {
			return errors.Wrapf(err, "row %d", row)
		}

		key := tripStop{st.TripID, st.StopSequence}
		if seen[key] {
			return errors.Errorf("duplicate stop_sequence %d for trip_id '%s'", st.StopSequence, st.TripID)
		}
		seen[key] = true

		maxArrival = max(maxArrival, stopTime.Arrival)
		maxDeparture = max(maxDeparture, stopTime.Departure)

		return errors.Wrapf(writer.WriteStopTime(stopTime), "writing stop_time (row %d)", row)
	})
	if err != nil {
		return "", "", errors.Wrap(err, "unmarshaling stop_times csv")
	}

	return maxArrival, maxDeparture, nil
}
