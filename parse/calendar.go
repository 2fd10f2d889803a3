package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

type CalendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

// Date range covered by a set of calendar records. Dates are
// YYYYMMDD, so string comparison orders them.
type dateRange struct {
	min, max string
}

func (r *dateRange) extend(start, end string) {
	if r.min == "" || start < r.min {
		r.min = start
	}
	if r.max == "" || end > r.max {
		r.max = end
	}
}

func validDate(s string) error {
	_, err := time.ParseInLocation("20060102", s, time.UTC)
	return err
}

func (c *CalendarCSV) weekdays() (int8, error) {
	var mask int8
	for _, d := range []struct {
		day   time.Weekday
		value int8
	}{
		{time.Monday, c.Monday},
		{time.Tuesday, c.Tuesday},
		{time.Wednesday, c.Wednesday},
		{time.Thursday, c.Thursday},
		{time.Friday, c.Friday},
		{time.Saturday, c.Saturday},
		{time.Sunday, c.Sunday},
	} {
		switch d.value {
		case 0:
		case 1:
			mask |= 1 << d.day
		default:
			return 0, fmt.Errorf("invalid %s value '%d'", d.day, d.value)
		}
	}
	return mask, nil
}

// Parses calendar.txt. Returns set of all service IDs, min date and
// max date.
func ParseCalendar(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	calendarCsv := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &calendarCsv); err != nil {
		return nil, "", "", errors.Wrap(err, "unmarshaling calendar csv")
	}

	knownServices := idSet{}
	span := dateRange{}

	for _, c := range calendarCsv {
		if err := knownServices.declare("service_id", c.ServiceID); err != nil {
			return nil, "", "", err
		}

		weekday, err := c.weekdays()
		if err != nil {
			return nil, "", "", errors.Wrapf(err, "service_id '%s'", c.ServiceID)
		}

		if err := validDate(c.StartDate); err != nil {
			return nil, "", "", errors.Wrap(err, "parsing start_date")
		}
		if err := validDate(c.EndDate); err != nil {
			return nil, "", "", errors.Wrap(err, "parsing end_date")
		}
		if c.EndDate < c.StartDate {
			return nil, "", "", errors.Errorf("service_id '%s' ends before it starts", c.ServiceID)
		}

		span.extend(c.StartDate, c.EndDate)

		err = writer.WriteCalendar(&model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		})
		if err != nil {
			return nil, "", "", errors.Wrap(err, "writing calendar")
		}
	}

	return knownServices, span.min, span.max, nil
}

// Parses calendar_dates.txt. Returns set of all service IDs, min
// date and max date.
func ParseCalendarDates(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	calendarDateCsv := []*CalendarDateCSV{}
	if err := gocsv.Unmarshal(data, &calendarDateCsv); err != nil {
		return nil, "", "", errors.Wrap(err, "unmarshaling calendar_dates csv")
	}

	knownService := map[string]bool{}
	knownServiceDate := map[[2]string]bool{}
	span := dateRange{}

	for _, cd := range calendarDateCsv {
		exceptionType := model.ExceptionType(cd.ExceptionType)
		if exceptionType != model.ExceptionTypeAdded && exceptionType != model.ExceptionTypeRemoved {
			return nil, "", "", errors.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}

		if err := validDate(cd.Date); err != nil {
			return nil, "", "", errors.Wrapf(err, "parsing date '%s'", cd.Date)
		}

		key := [2]string{cd.ServiceID, cd.Date}
		if knownServiceDate[key] {
			return nil, "", "", errors.Errorf("duplicate service/date: '%s-%s'", cd.Date, cd.ServiceID)
		}
		knownServiceDate[key] = true
		knownService[cd.ServiceID] = true

		span.extend(cd.Date, cd.Date)

		err := writer.WriteCalendarDate(&model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: exceptionType,
		})
		if err != nil {
			return nil, "", "", errors.Wrap(err, "writing calendar date")
		}
	}

	return knownService, span.min, span.max, nil
}
