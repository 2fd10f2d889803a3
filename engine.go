package departureboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/slices"

	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/ptref"
	"tidbyt.dev/departureboard/request"
	"tidbyt.dev/departureboard/window"
)

// Read-only data a departure board is computed against. Shared by
// all requests.
type Dataset struct {
	Production  time.Time
	Resolver    ptref.Resolver
	Calendars   window.CalendarStore
	LineWindows map[string]model.LineWindow

	// Parent station by stop ID, and line by route ID.
	StopAreas map[string]string
	Lines     map[string]string
}

func NewDataset(static *Static, index *ptref.Index) (*Dataset, error) {
	lineWindows, err := static.Reader.LineWindows()
	if err != nil {
		return nil, fmt.Errorf("getting line windows: %w", err)
	}

	return &Dataset{
		Production:  static.Production(),
		Resolver:    index,
		Calendars:   static.Reader,
		LineWindows: lineWindows,
		StopAreas:   index.StopAreas(),
		Lines:       index.Lines(),
	}, nil
}

type EngineConfig struct {
	// Bound on concurrent route point lookups per request.
	MaxGoroutines int

	// How lines with unknown calendar data are reported.
	ClosurePolicy window.Policy

	// Defaults to a no-op logger.
	Logger *zerolog.Logger
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxGoroutines: 16,
		ClosurePolicy: window.Optimistic,
	}
}

// Computes departure boards: resolves route points, looks up
// departures for each, and merges and paginates the result.
type Engine struct {
	dataset       *Dataset
	router        Router
	classifier    *window.Classifier
	maxGoroutines int
	logger        zerolog.Logger
}

func NewEngine(dataset *Dataset, router Router, config EngineConfig) *Engine {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	maxGoroutines := config.MaxGoroutines
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}

	return &Engine{
		dataset: dataset,
		router:  router,
		classifier: &window.Classifier{
			Calendars: dataset.Calendars,
			Policy:    config.ClosurePolicy,
		},
		maxGoroutines: maxGoroutines,
		logger:        logger,
	}
}

// What request constructors need to build descriptors this engine
// can execute.
func (e *Engine) Env() request.Env {
	return request.Env{
		Production: e.dataset.Production,
		Resolver:   e.dataset.Resolver,
	}
}

type Query struct {
	Filter       string
	CalendarID   string
	ForbiddenIDs []string

	DateTime clock.DateTime
	Duration time.Duration
	Depth    int

	Count         int
	StartPage     int
	RTLevel       model.RTLevel
	ItemsPerPoint int
}

type Pagination struct {
	StartPage    int `json:"start_page"`
	ItemsPerPage int `json:"items_per_page"`
	ItemsOnPage  int `json:"items_on_page"`
	TotalResult  int `json:"total_result"`
}

// A route point whose lookup failed. The other route points of the
// request are unaffected.
type PairFailure struct {
	Pair model.RoutePoint
	Err  error
}

func (f *PairFailure) Error() string {
	return fmt.Sprintf("looking up departures at %s on %s: %s", f.Pair.StopID, f.Pair.RouteID, f.Err)
}

func (f *PairFailure) Unwrap() error {
	return f.Err
}

type Result struct {
	Departures []model.Departure
	Pagination Pagination

	// Number of route points looked up.
	TotalPairs int
	HasMore    bool
	Failures   []*PairFailure

	// Set when the request was invalid, in which case nothing
	// was looked up.
	Error string
}

func (e *Engine) DepartureBoard(ctx context.Context, q Query) (*Result, error) {
	opts := request.Options{
		CalendarID:    q.CalendarID,
		ForbiddenIDs:  q.ForbiddenIDs,
		Count:         q.Count,
		StartPage:     q.StartPage,
		RTLevel:       q.RTLevel,
		ItemsPerPoint: q.ItemsPerPoint,
		Depth:         q.Depth,
	}

	d := request.Board("departure_boards", q.Filter, q.DateTime, q.Duration, opts, e.Env())

	return e.Execute(ctx, d)
}

type lookup struct {
	pair       model.RoutePoint
	departures []model.Departure
	err        error
}

// Runs a request. Invalid requests yield a Result carrying the
// descriptor's message, without any lookups. The returned error is
// reserved for the context being done.
func (e *Engine) Execute(ctx context.Context, d *request.Descriptor) (*Result, error) {
	if msg := d.Message(); msg != "" {
		e.logger.Debug().Str("api", d.API()).Str("error", msg).Msg("invalid request")
		return &Result{Departures: []model.Departure{}, Error: msg}, nil
	}

	opts := d.Options()

	pairs, resolved := d.Pairs()
	if !resolved {
		var err error
		pairs, err = e.resolve(d.Filter())
		if err != nil {
			return &Result{
				Departures: []model.Departure{},
				Error:      d.API() + " / " + err.Error(),
			}, nil
		}
	}

	pairs = e.allowedPairs(pairs, opts.ForbiddenIDs)

	w, depth := e.window(d)

	p := pool.NewWithResults[lookup]().WithMaxGoroutines(e.maxGoroutines)
	for _, pair := range pairs {
		p.Go(func() lookup {
			deps, err := e.router.StopTimes(ctx, pair, w, depth, opts.RTLevel)
			return lookup{pair: pair, departures: deps, err: err}
		})
	}
	lookups := p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Completion order is arbitrary
	sort.Slice(lookups, func(i, j int) bool {
		a, b := lookups[i].pair, lookups[j].pair
		if a.StopID != b.StopID {
			return a.StopID < b.StopID
		}
		return a.RouteID < b.RouteID
	})

	result := &Result{
		TotalPairs: len(pairs),
		Failures:   []*PairFailure{},
	}

	forbidden := forbiddenSet(opts.ForbiddenIDs)
	merged := []model.Departure{}
	for _, l := range lookups {
		if l.err != nil {
			e.logger.Warn().
				Err(l.err).
				Str("stop_id", l.pair.StopID).
				Str("route_id", l.pair.RouteID).
				Msg("lookup failed")
			result.Failures = append(result.Failures, &PairFailure{Pair: l.pair, Err: l.err})
			continue
		}

		deps := []model.Departure{}
		for _, dep := range l.departures {
			if e.isForbidden(forbidden, dep.StopID, dep.RouteID) {
				continue
			}
			deps = append(deps, dep)
		}

		if opts.ItemsPerPoint > 0 && len(deps) > opts.ItemsPerPoint {
			deps = deps[:opts.ItemsPerPoint]
		}

		if opts.CalendarID != "" {
			for i := range deps {
				deps[i].Closed = e.isClosed(opts.CalendarID, deps[i])
			}
		}

		merged = append(merged, deps...)
	}

	sortDepartures(merged)

	// A station and one of its stops can both be selected
	merged = slices.CompactFunc(merged, func(a, b model.Departure) bool {
		return a.Time.Equal(b.Time) && a.StopID == b.StopID && a.RouteID == b.RouteID && a.TripID == b.TripID
	})

	if limit := d.MaxResults(); limit >= 0 && limit != request.Unbounded && len(merged) > limit {
		merged = merged[:limit]
	}

	total := len(merged)
	start, end := page(total, opts.StartPage, opts.Count)

	result.Departures = merged[start:end]
	result.HasMore = end < total
	result.Pagination = Pagination{
		StartPage:    opts.StartPage,
		ItemsPerPage: opts.Count,
		ItemsOnPage:  end - start,
		TotalResult:  total,
	}

	e.logger.Debug().
		Str("api", d.API()).
		Int("pairs", len(pairs)).
		Int("failures", len(result.Failures)).
		Int("total", total).
		Msg("departure board computed")

	return result, nil
}

// Bounds of the requested page within total items. Page and count
// can be arbitrarily large, so the offset is never multiplied out
// past total.
func page(total, startPage, count int) (int, int) {
	if total == 0 || count < 1 || startPage < 0 || startPage > (total-1)/count {
		return total, total
	}
	start := startPage * count
	return start, start + min(count, total-start)
}

func (e *Engine) resolve(filter string) ([]model.RoutePoint, error) {
	if e.dataset.Resolver == nil {
		return nil, &request.FilterResolveError{Kind: request.FilterGlobal}
	}

	pairs, err := e.dataset.Resolver.RoutePoints(filter)
	if err != nil {
		return nil, request.NewFilterResolveError(err)
	}

	return pairs, nil
}

// The lookup window and number of service days to inspect. Unbounded
// requests span depth full days from the start day. Bounded ones
// inspect at least as many days as the window touches.
func (e *Engine) window(d *request.Descriptor) (Window, int) {
	from := d.DateTime().Normalize()
	depth := d.Options().Depth

	until, bounded := d.MaxDateTime()
	if !bounded {
		return Window{From: from, Until: clock.DateTime{Day: from.Day + depth}}, depth
	}

	if span := clock.FromAbs(until.Abs()-1).Day - from.Day + 1; span > depth {
		depth = span
	}

	return Window{From: from, Until: until}, depth
}

func forbiddenSet(ids []string) map[string]bool {
	set := map[string]bool{}
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

// Whether a stop, its parent station, a route or its line is
// forbidden.
func (e *Engine) isForbidden(forbidden map[string]bool, stopID string, routeID string) bool {
	if len(forbidden) == 0 {
		return false
	}
	return forbidden[stopID] ||
		forbidden[e.dataset.StopAreas[stopID]] ||
		forbidden[routeID] ||
		forbidden[e.dataset.Lines[routeID]]
}

func (e *Engine) allowedPairs(pairs []model.RoutePoint, forbiddenIDs []string) []model.RoutePoint {
	forbidden := forbiddenSet(forbiddenIDs)

	allowed := []model.RoutePoint{}
	for _, pair := range pairs {
		if e.isForbidden(forbidden, pair.StopID, pair.RouteID) {
			continue
		}
		allowed = append(allowed, pair)
	}

	return allowed
}

// Whether dep's line is closed under a calendar at departure time.
// Lines without a known service window are judged by the calendar
// alone.
func (e *Engine) isClosed(calendarID string, dep model.Departure) bool {
	at := window.TimeOfDay(time.Duration(dep.Time.Abs()-dep.ServiceDay*clock.SecondsPerDay) * time.Second)
	opening, closing := window.TimeOfDay(0), 2*window.Day

	lineID := dep.LineID
	if lineID == "" {
		lineID = e.dataset.Lines[dep.RouteID]
	}
	if lw, ok := e.dataset.LineWindows[lineID]; ok {
		opening, closing = window.TimeOfDay(lw.Opening), window.TimeOfDay(lw.Closing)
	}

	date := clock.DateTime{Day: dep.ServiceDay}.Date(e.dataset.Production)

	status, err := e.classifier.LineClosed(calendarID, at, opening, closing, date)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("calendar_id", calendarID).
			Str("line_id", lineID).
			Msg("calendar lookup failed")
	}

	return e.classifier.IsClosed(status)
}
