package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	URL           string  `csv:"stop_url"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	PlatformCode  string  `csv:"platform_code"`
}

func (s *StopCSV) stop() (*model.Stop, error) {
	lt := model.LocationType(s.LocationType)
	if lt < model.LocationTypeStop || lt > model.LocationTypeBoardingArea {
		return nil, errors.Errorf("invalid location_type %d", s.LocationType)
	}

	// Generic nodes and boarding areas are never shown to riders,
	// so they can go without name and position.
	located := lt != model.LocationTypeGenericNode && lt != model.LocationTypeBoardingArea
	if located && (s.Name == "" || s.Lat == 0 || s.Lon == 0) {
		return nil, errors.New("stop_name, stop_lat and stop_lon required")
	}

	return &model.Stop{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Desc:          s.Desc,
		Lat:           s.Lat,
		Lon:           s.Lon,
		URL:           s.URL,
		LocationType:  lt,
		ParentStation: s.ParentStation,
		PlatformCode:  s.PlatformCode,
	}, nil
}

// Parses stops.txt. Returns the set of stop IDs. Parent stations may
// appear after their children.
func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	rows := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling stops csv")
	}

	ids := idSet{}
	for _, row := range rows {
		if err := ids.declare("stop_id", row.ID); err != nil {
			return nil, err
		}

		stop, err := row.stop()
		if err != nil {
			return nil, errors.Wrapf(err, "stop '%s'", row.ID)
		}
		if err := writer.WriteStop(stop); err != nil {
			return nil, errors.Wrapf(err, "writing stop '%s'", row.ID)
		}
	}

	for _, row := range rows {
		if row.ParentStation == "" {
			continue
		}
		if err := ids.require("parent_station", row.ParentStation); err != nil {
			return nil, errors.Wrapf(err, "stop '%s'", row.ID)
		}
	}

	return ids, nil
}
