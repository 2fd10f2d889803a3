package parse

import (
	"archive/zip"
	"bytes"
	"io"
	"path"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/departureboard/storage"
)

// Files loaded from static GTFS archives. All but the calendar files
// and feed_info.txt are required.
var staticFiles = []string{
	"agency.txt",
	"routes.txt",
	"stops.txt",
	"trips.txt",
	"stop_times.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"feed_info.txt",
}

var requiredFiles = []string{
	"agency.txt",
	"routes.txt",
	"stops.txt",
	"trips.txt",
	"stop_times.txt",
}

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Parses a zipped static GTFS feed into writer. Returns a partial
// FeedMetadata (no URL, hash or retrieval time) describing the feed.
//
// The production period, from which all calendar relative times are
// counted, is taken from feed_info.txt when present and otherwise
// spans all calendar records.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, errors.Wrap(err, "unzipping")
	}

	file := map[string]io.ReadCloser{}
	defer func() {
		for _, rc := range file {
			rc.Close()
		}
	}()

	wanted := map[string]bool{}
	for _, name := range staticFiles {
		wanted[name] = true
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if !wanted[name] || file[name] != nil {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", f.Name)
		}
		file[name] = rc
	}

	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return nil, errors.New("missing calendar.txt and calendar_dates.txt")
	}
	for _, required := range requiredFiles {
		if file[required] == nil {
			return nil, errors.Errorf("missing %s", required)
		}
	}

	agency, timezone, err := ParseAgency(writer, file["agency.txt"])
	if err != nil {
		return nil, errors.Wrap(err, "parsing agency.txt")
	}

	routes, err := ParseRoutes(writer, file["routes.txt"], agency)
	if err != nil {
		return nil, errors.Wrap(err, "parsing routes.txt")
	}

	span := dateRange{}
	services := map[string]bool{}
	if file["calendar.txt"] != nil {
		calServices, minDate, maxDate, err := ParseCalendar(writer, file["calendar.txt"])
		if err != nil {
			return nil, errors.Wrap(err, "parsing calendar.txt")
		}
		for serviceID := range calServices {
			services[serviceID] = true
		}
		if minDate != "" {
			span.extend(minDate, maxDate)
		}
	}
	if file["calendar_dates.txt"] != nil {
		cdServices, minDate, maxDate, err := ParseCalendarDates(writer, file["calendar_dates.txt"])
		if err != nil {
			return nil, errors.Wrap(err, "parsing calendar_dates.txt")
		}
		for serviceID := range cdServices {
			services[serviceID] = true
		}
		if minDate != "" {
			span.extend(minDate, maxDate)
		}
	}

	if file["feed_info.txt"] != nil {
		info, err := ParseFeedInfo(file["feed_info.txt"])
		if err != nil {
			return nil, errors.Wrap(err, "parsing feed_info.txt")
		}
		if info.StartDate != "" {
			span.min = info.StartDate
		}
		if info.EndDate != "" {
			span.max = info.EndDate
		}
	}

	if err := writer.BeginTrips(); err != nil {
		return nil, errors.Wrap(err, "beginning trips")
	}
	trips, err := ParseTrips(writer, file["trips.txt"], routes, services)
	if err != nil {
		return nil, errors.Wrap(err, "parsing trips.txt")
	}
	if err := writer.EndTrips(); err != nil {
		return nil, errors.Wrap(err, "ending trips")
	}

	stops, err := ParseStops(writer, file["stops.txt"])
	if err != nil {
		return nil, errors.Wrap(err, "parsing stops.txt")
	}

	if err := writer.BeginStopTimes(); err != nil {
		return nil, errors.Wrap(err, "beginning stop_times")
	}
	maxArrival, maxDeparture, err := ParseStopTimes(writer, file["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, errors.Wrap(err, "parsing stop_times.txt")
	}
	if err := writer.EndStopTimes(); err != nil {
		return nil, errors.Wrap(err, "ending stop_times")
	}

	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "closing feed writer")
	}

	return &storage.FeedMetadata{
		CalendarStartDate: span.min,
		CalendarEndDate:   span.max,
		Timezone:          timezone,
		MaxArrival:        maxArrival,
		MaxDeparture:      maxDeparture,
	}, nil
}
