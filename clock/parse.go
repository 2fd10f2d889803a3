package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	iso8601 "github.com/senseyeio/duration"
)

var ErrEmptyTime = errors.New("empty datetime")

type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid datetime '%s': %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var dateTimeLayouts = []string{
	ISOLayout,
	"20060102T1504",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Parses a date-time into a DateTime relative to production.
//
// Accepts a full ISO date-time (20240102T093000), or a time of day
// prefixed with T (T8, T08, T0830, T083015), which is taken to be on
// the production date itself. Missing minutes and seconds default to
// zero.
func ParseTime(text string, production time.Time) (DateTime, error) {
	if text == "" {
		return DateTime{}, ErrEmptyTime
	}

	working := text
	if strings.HasPrefix(working, "T") {
		if len(working) == 2 {
			working = "T0" + working[1:]
		}
		if len(working) == 3 {
			working += "00"
		}
		if len(working) == 5 {
			working += "00"
		}
		working = Midnight(production).Format(dateLayout) + working
	}

	var parsed time.Time
	var err error
	for _, layout := range dateTimeLayouts {
		parsed, err = time.ParseInLocation(layout, working, time.UTC)
		if err == nil {
			break
		}
	}
	if err != nil {
		return DateTime{}, &ParseError{Text: text, Err: err}
	}

	return DateTime{
		Day:     DaysBetween(production, parsed),
		Seconds: parsed.Hour()*3600 + parsed.Minute()*60 + parsed.Second(),
	}, nil
}

// Parses a window length. ISO-8601 durations (PT1H30M) and Go
// durations (90m) are both accepted.
func ParseWindow(text string) (time.Duration, error) {
	if strings.HasPrefix(text, "P") {
		d, err := iso8601.ParseISO8601(text)
		if err != nil {
			return 0, fmt.Errorf("parsing duration '%s': %w", text, err)
		}
		// Shift from a fixed DST free reference, so day and
		// month components have a stable meaning.
		ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		return d.Shift(ref).Sub(ref), nil
	}

	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("parsing duration '%s': %w", text, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration '%s'", text)
	}
	return d, nil
}
