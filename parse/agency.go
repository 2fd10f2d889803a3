package parse

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
}

// The dataset's timezone. Every agency must declare the same one,
// since departure times are all expressed in it.
func datasetTimezone(agencies []*AgencyCSV) (string, error) {
	if len(agencies) == 0 {
		return "", errors.New("no agency record found")
	}

	tz := agencies[0].Timezone
	if tz == "" {
		return "", errors.New("missing agency_timezone")
	}
	for _, a := range agencies[1:] {
		if a.Timezone != tz {
			return "", errors.Errorf("multiple agency_timezone: '%s' and '%s'", tz, a.Timezone)
		}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", errors.Wrapf(err, "agency_timezone '%s' is invalid", tz)
	}

	return tz, nil
}

func (a *AgencyCSV) agency(tz string) (*model.Agency, error) {
	if a.Name == "" || a.URL == "" {
		return nil, errors.Errorf("agency '%s' needs agency_name and agency_url", a.ID)
	}
	return &model.Agency{ID: a.ID, Name: a.Name, URL: a.URL, Timezone: tz}, nil
}

// Parses agency.txt. Returns the set of agency IDs and the dataset's
// timezone. A lone agency may leave its ID empty.
func ParseAgency(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, error) {
	rows := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, "", errors.Wrap(err, "unmarshaling agency csv")
	}

	tz, err := datasetTimezone(rows)
	if err != nil {
		return nil, "", err
	}

	ids := idSet{}
	for _, row := range rows {
		if ids[row.ID] {
			return nil, "", errors.Errorf("repeated agency_id '%s'", row.ID)
		}
		ids[row.ID] = true

		agency, err := row.agency(tz)
		if err != nil {
			return nil, "", err
		}
		if err := writer.WriteAgency(agency); err != nil {
			return nil, "", errors.Wrapf(err, "writing agency '%s'", row.ID)
		}
	}

	return ids, tz, nil
}
