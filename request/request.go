// Package request turns raw departure board request parameters into
// validated, normalized query descriptors.
//
// Constructors never fail outright. Every problem found is recorded
// on the returned Descriptor, which callers must check with Err()
// before running the query.
package request

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/ptref"
)

// Result count meaning "no limit".
const Unbounded = math.MaxInt32

type Options struct {
	CalendarID   string
	ForbiddenIDs []string

	// Page size and index.
	Count     int `validate:"gte=1"`
	StartPage int `validate:"gte=0"`

	RTLevel model.RTLevel `validate:"gte=0,lte=2"`

	// Maximum number of departures per route point. 0 means no
	// limit.
	ItemsPerPoint int `validate:"gte=0"`

	// Number of service days to look ahead.
	Depth int `validate:"gte=1"`
}

func DefaultOptions() Options {
	return Options{
		Count:   10,
		RTLevel: model.RTLevelBaseSchedule,
		Depth:   1,
	}
}

// What the parser needs from the dataset.
type Env struct {
	Production time.Time
	Resolver   ptref.Resolver
}

// A normalized request. Immutable once built.
type Descriptor struct {
	api         string
	dateTime    clock.DateTime
	maxDateTime *clock.DateTime
	maxResults  int
	filter      string
	pairs       []model.RoutePoint
	resolved    bool
	opts        Options
	errs        []error
}

var validate = validator.New()

func newDescriptor(api string, opts Options) *Descriptor {
	d := &Descriptor{
		api:        api,
		maxResults: Unbounded,
		opts:       opts,
	}
	d.validateOptions()
	return d
}

func (d *Descriptor) fail(err error) {
	d.errs = append(d.errs, err)
}

func (d *Descriptor) validateOptions() {
	err := validate.Struct(d.opts)
	if err == nil {
		return
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		d.fail(err)
		return
	}

	for _, fe := range verrs {
		switch fe.Field() {
		case "Count", "StartPage":
			value, _ := fe.Value().(int)
			d.fail(&InvalidPaginationError{Field: fe.Field(), Value: value})
		default:
			d.fail(&InvalidOptionError{Field: fe.Field(), Value: fe.Value()})
		}
	}
}

func (d *Descriptor) parseTime(field string, text string, production time.Time) (clock.DateTime, bool) {
	dt, err := clock.ParseTime(text, production)
	if err != nil {
		d.fail(&TimeParseError{Field: field, Text: text, Err: err})
		return clock.DateTime{}, false
	}
	return dt, true
}

func (d *Descriptor) resolve(filter string, env Env) {
	d.filter = filter

	if env.Resolver == nil {
		if filter != "" {
			d.fail(&FilterResolveError{Kind: FilterGlobal, Err: errors.New("no referential available")})
		}
		return
	}

	pairs, err := env.Resolver.RoutePoints(filter)
	if err != nil {
		d.fail(NewFilterResolveError(err))
		return
	}
	d.pairs = pairs
	d.resolved = true
}

// A board of departures starting at from, ending at until or after
// maxCount results. One of the two must be given: without either,
// the descriptor carries a MissingTerminationError and neither until
// nor the filter are looked at.
func Departures(api, filter, from, until string, maxCount int, opts Options, env Env) *Descriptor {
	d := newDescriptor(api, opts)

	if dt, ok := d.parseTime("datetime", from, env.Production); ok {
		d.dateTime = dt
	}

	if maxCount == Unbounded && until == "" {
		d.fail(&MissingTerminationError{})
		return d
	}
	if maxCount < 0 {
		d.fail(&InvalidOptionError{Field: "MaxCount", Value: maxCount})
	} else {
		d.maxResults = maxCount
	}

	if until != "" {
		if dt, ok := d.parseTime("max_datetime", until, env.Production); ok {
			d.maxDateTime = &dt
		}
	}

	d.resolve(filter, env)

	return d
}

// A full day schedule. from is truncated to midnight, and changeTime
// is the clock time on the following day at which the schedule
// rolls over.
func RouteSchedule(api, filter, from, changeTime string, opts Options, env Env) *Descriptor {
	d := newDescriptor(api, opts)

	if dt, ok := d.parseTime("datetime", from, env.Production); ok {
		d.dateTime = dt.TruncateToDay()
	}

	if dt, ok := d.parseTime("changetime", changeTime, env.Production); ok {
		change := clock.DateTime{
			Day:     d.dateTime.Day + 1,
			Seconds: dt.Hour(),
		}
		d.maxDateTime = &change
	}

	d.resolve(filter, env)

	return d
}

// A full day schedule for route points known to the caller.
func TerminusSchedule(api, from string, pairs []model.RoutePoint, opts Options, env Env) *Descriptor {
	d := newDescriptor(api, opts)

	if dt, ok := d.parseTime("datetime", from, env.Production); ok {
		d.dateTime = dt.TruncateToDay()
	}

	d.pairs = append([]model.RoutePoint{}, pairs...)
	d.resolved = true

	return d
}

// Departures within duration of an already parsed instant.
func Board(api, filter string, from clock.DateTime, duration time.Duration, opts Options, env Env) *Descriptor {
	d := newDescriptor(api, opts)
	d.dateTime = from

	if duration <= 0 {
		d.fail(&InvalidOptionError{Field: "Duration", Value: duration})
		return d
	}

	until := from.Add(duration)
	d.maxDateTime = &until

	d.resolve(filter, env)

	return d
}

func (d *Descriptor) API() string {
	return d.api
}

func (d *Descriptor) DateTime() clock.DateTime {
	return d.dateTime
}

// End of the query window, if bounded.
func (d *Descriptor) MaxDateTime() (clock.DateTime, bool) {
	if d.maxDateTime == nil {
		return clock.DateTime{}, false
	}
	return *d.maxDateTime, true
}

// Cap on the number of results, or Unbounded.
func (d *Descriptor) MaxResults() int {
	return d.maxResults
}

func (d *Descriptor) Filter() string {
	return d.filter
}

// The selected route points, and whether the filter was resolved.
// When it wasn't, the caller is expected to resolve Filter() itself.
func (d *Descriptor) Pairs() ([]model.RoutePoint, bool) {
	return append([]model.RoutePoint{}, d.pairs...), d.resolved
}

func (d *Descriptor) Options() Options {
	opts := d.opts
	opts.ForbiddenIDs = append([]string{}, d.opts.ForbiddenIDs...)
	return opts
}

// All problems found with the request, or nil.
func (d *Descriptor) Err() error {
	return errors.Join(d.errs...)
}

func (d *Descriptor) Errors() []error {
	return append([]error{}, d.errs...)
}

// Human readable rendering of Err(), prefixed by the API name. Empty
// if the request is valid.
func (d *Descriptor) Message() string {
	if len(d.errs) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(d.errs))
	for _, err := range d.errs {
		msgs = append(msgs, err.Error())
	}
	return d.api + " / " + strings.Join(msgs, "; ")
}
