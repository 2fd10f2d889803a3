package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

type FeedInfoCSV struct {
	PublisherName string `csv:"feed_publisher_name"`
	StartDate     string `csv:"feed_start_date"`
	EndDate       string `csv:"feed_end_date"`
	Version       string `csv:"feed_version"`
}

// Validity period declared by the feed publisher.
type FeedInfo struct {
	StartDate string
	EndDate   string
	Version   string
}

// Parses feed_info.txt. Only the first record is considered; the
// file holds a single record per the GTFS reference.
func ParseFeedInfo(data io.Reader) (*FeedInfo, error) {
	rows := []*FeedInfoCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling feed_info csv")
	}
	if len(rows) == 0 {
		return &FeedInfo{}, nil
	}

	fi := rows[0]
	if fi.StartDate != "" {
		if err := validDate(fi.StartDate); err != nil {
			return nil, errors.Wrap(err, "parsing feed_start_date")
		}
	}
	if fi.EndDate != "" {
		if err := validDate(fi.EndDate); err != nil {
			return nil, errors.Wrap(err, "parsing feed_end_date")
		}
	}
	if fi.StartDate != "" && fi.EndDate != "" && fi.EndDate < fi.StartDate {
		return nil, errors.New("feed_end_date before feed_start_date")
	}

	return &FeedInfo{
		StartDate: fi.StartDate,
		EndDate:   fi.EndDate,
		Version:   fi.Version,
	}, nil
}
