package departureboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/parse"
	"tidbyt.dev/departureboard/storage"
	"tidbyt.dev/departureboard/synthese"
)

// The Realtime side of the GTFS. Covers cancelled trips, skipped
// stops and delays, and optionally next passages from an external
// service.
//
// Added trips are not handled at all. Nor are any of the realtime
// extensions.
type Realtime struct {
	static *Static

	updatesByTrip map[parse.TripInstance][]*RealtimeUpdate
	canceled      map[parse.TripInstance]bool

	// Used to expand the time window when querying static
	// departures, so that delayed (and early) stops are
	// retrieved and then updated. Results in larger windows than
	// necessary, as stop delays propagate along the trip and are
	// tricky to bound per stop.
	minDelay time.Duration
	maxDelay time.Duration

	passages PassageSource
	logger   zerolog.Logger
}

// Next passages at a stop, grouped by route, as returned by
// synthese.Client.
type PassageSource interface {
	NextPassages(ctx context.Context, stopCode string, at time.Time, count int) (map[synthese.RoutePoint][]synthese.Passage, error)
}

type RealtimeOption func(*Realtime)

// Serve realtime lookups from an external next passage service. The
// feed based realtime departures are kept whenever the service fails.
func WithPassageSource(source PassageSource) RealtimeOption {
	return func(rt *Realtime) {
		rt.passages = source
	}
}

func WithLogger(logger zerolog.Logger) RealtimeOption {
	return func(rt *Realtime) {
		rt.logger = logger
	}
}

// Similar to parse.StopTimeUpdate, but trimmed down to what's
// necessary to serve realtime predictions.
type RealtimeUpdate struct {
	StopSequence   uint32
	ArrivalDelay   time.Duration
	DepartureDelay time.Duration
	Type           parse.StopTimeUpdateScheduleRelationship
}

func NewRealtime(ctx context.Context, static *Static, feeds [][]byte, opts ...RealtimeOption) (*Realtime, error) {
	rt := &Realtime{
		static:        static,
		updatesByTrip: map[parse.TripInstance][]*RealtimeUpdate{},
		canceled:      map[parse.TripInstance]bool{},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	realtime, err := parse.ParseRealtime(ctx, feeds)
	if err != nil {
		return nil, fmt.Errorf("parsing feeds: %w", err)
	}

	rt.canceled = realtime.Canceled

	// Retrieve static stop time events for all trips in the
	// realtime feed
	trips := map[string]bool{}
	for _, update := range realtime.Updates {
		trips[update.TripID] = true
	}
	tripIDs := make([]string, 0, len(trips))
	for tripID := range trips {
		tripIDs = append(tripIDs, tripID)
	}

	events := []*storage.StopTimeEvent{}
	if len(tripIDs) > 0 {
		events, err = static.Reader.StopTimeEvents(storage.StopTimeEventFilter{
			DirectionID: -1,
			TripIDs:     tripIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("loading stop time events: %w", err)
		}
	}

	resolveStopReferences(realtime.Updates, events)
	rt.buildRealtimeUpdates(realtime.Updates, events)

	rt.logger.Debug().
		Int("updates", len(realtime.Updates)).
		Int("canceled", len(realtime.Canceled)).
		Int("trips", len(rt.updatesByTrip)).
		Dur("min_delay", rt.minDelay).
		Dur("max_delay", rt.maxDelay).
		Msg("realtime loaded")

	return rt, nil
}

// Instance of a trip running on a service day. Feeds that don't give
// start_date apply to the trip on every day.
func (rt *Realtime) instance(dep model.Departure) (parse.TripInstance, parse.TripInstance) {
	date := clock.DateTime{Day: dep.ServiceDay}.DateString(rt.static.Production())
	return parse.TripInstance{TripID: dep.TripID, StartDate: date},
		parse.TripInstance{TripID: dep.TripID}
}

func (rt *Realtime) isCanceled(dep model.Departure) bool {
	dated, undated := rt.instance(dep)
	return rt.canceled[dated] || rt.canceled[undated]
}

func (rt *Realtime) updates(dep model.Departure) []*RealtimeUpdate {
	dated, undated := rt.instance(dep)
	if updates, found := rt.updatesByTrip[dated]; found {
		return updates
	}
	return rt.updatesByTrip[undated]
}

// Returns departures for pair in w at the requested fidelity.
//
// At base schedule, this is the static schedule. Adapted removes
// cancelled trips and skipped stops. Realtime additionally applies
// delays, or replaces the departures with next passages when a
// passage source is configured.
func (rt *Realtime) StopTimes(
	ctx context.Context,
	pair model.RoutePoint,
	w Window,
	depth int,
	level model.RTLevel,
) ([]model.Departure, error) {
	if level == model.RTLevelBaseSchedule {
		return rt.static.StopTimes(ctx, pair, w, depth, level)
	}

	// Extend the window so that delayed (or early) departures
	// are included.
	extended := w
	if level == model.RTLevelRealtime {
		extended = Window{
			From:  w.From.Add(-rt.maxDelay),
			Until: w.Until.Add(-rt.minDelay),
		}
	}

	// Delays are well under a day, so two extra service days
	// cover any extension.
	scheduled, err := rt.static.StopTimes(ctx, pair, extended, depth+2, level)
	if err != nil {
		return nil, fmt.Errorf("getting static departures: %w", err)
	}

	lastDay := w.From.Normalize().Day + depth - 1
	departures := []model.Departure{}
	for _, dep := range scheduled {
		if dep.ServiceDay > lastDay || rt.isCanceled(dep) {
			continue
		}

		dep, keep := rt.apply(dep, level)
		if !keep || !w.Contains(dep.Time) {
			continue
		}
		departures = append(departures, dep)
	}

	sortDepartures(departures)

	if level == model.RTLevelRealtime && rt.passages != nil {
		passages, err := rt.nextPassages(ctx, pair, w, departures)
		if err != nil {
			rt.logger.Warn().
				Err(err).
				Str("stop_id", pair.StopID).
				Str("route_id", pair.RouteID).
				Msg("next passages unavailable, keeping feed departures")
			return departures, nil
		}
		return passages, nil
	}

	return departures, nil
}

// Applies the trip's updates to a scheduled departure. Returns false
// if the stop is skipped.
func (rt *Realtime) apply(dep model.Departure, level model.RTLevel) (model.Departure, bool) {
	updates := rt.updates(dep)
	if len(updates) == 0 {
		// None provided, so schedule applies
		return dep, true
	}

	// In GTFS-rt, when no other data is provided, previous
	// delays along a trip have to be propagated to later
	// stops. This searches for the first update that applies to
	// a _later_ stop.
	idx := sort.Search(len(updates), func(i int) bool {
		return updates[i].StopSequence > dep.StopSequence
	})

	// And this places index to the update (if any) that applies
	// to this stop.
	idx--

	if idx < 0 {
		return dep, true
	}

	if updates[idx].Type == parse.StopTimeUpdateSkipped {
		if updates[idx].StopSequence == dep.StopSequence {
			return dep, false
		}

		// The skipped stop was earlier on the trip, so keep
		// searching for the first non-skipped stop
		for idx >= 0 && updates[idx].Type == parse.StopTimeUpdateSkipped {
			idx--
		}
		if idx < 0 {
			return dep, true
		}
	}

	dep.RTLevel = model.RTLevelAdapted
	if level < model.RTLevelRealtime {
		return dep, true
	}

	// idx now points to the update that applies. This may be for
	// a prior stop, in which case the delay is propagated
	// forward.
	if updates[idx].Type == parse.StopTimeUpdateScheduled {
		dep.Delay = updates[idx].DepartureDelay
		dep.Time = dep.Time.Add(dep.Delay)
		dep.RTLevel = model.RTLevelRealtime
	}

	return dep, true
}

// Replaces departures with next passages from the passage source.
// Trip details are carried over from the feed departure with the
// closest time.
func (rt *Realtime) nextPassages(
	ctx context.Context,
	pair model.RoutePoint,
	w Window,
	feed []model.Departure,
) ([]model.Departure, error) {
	stopCode := rt.static.StopCode(pair.StopID)
	at := rt.static.Absolute(w.From)

	all, err := rt.passages.NextPassages(ctx, stopCode, at, len(feed))
	if err != nil {
		return nil, fmt.Errorf("next passages at '%s': %w", stopCode, err)
	}

	departures := []model.Departure{}
	for _, p := range all[synthese.RoutePoint{StopCode: stopCode, RouteID: pair.RouteID}] {
		t := rt.static.Relative(p.Time)
		if !w.Contains(t) {
			continue
		}

		dep := model.Departure{
			StopID:     pair.StopID,
			RouteID:    pair.RouteID,
			LineID:     rt.static.LineID(pair.RouteID),
			Time:       t,
			ServiceDay: t.Day,
			RTLevel:    model.RTLevelBaseSchedule,
		}
		if p.RealTime {
			dep.RTLevel = model.RTLevelRealtime
		}
		if closest, ok := closestDeparture(feed, t); ok {
			dep.TripID = closest.TripID
			dep.StopSequence = closest.StopSequence
			dep.DirectionID = closest.DirectionID
			dep.Headsign = closest.Headsign
			dep.ServiceDay = closest.ServiceDay
			dep.Delay = t.Sub(closest.Time.Add(-closest.Delay))
		}

		departures = append(departures, dep)
	}

	sortDepartures(departures)

	return departures, nil
}

func closestDeparture(departures []model.Departure, t clock.DateTime) (model.Departure, bool) {
	best := -1
	var bestDiff time.Duration
	for i, dep := range departures {
		diff := dep.Time.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return model.Departure{}, false
	}
	return departures[best], true
}

// Updates all updates to have both stop_id and stop_sequence set.
//
// GTFS-rt's StopTimeUpdates can reference stops using stop_id,
// stop_sequence, or both. stop_sequence is needed to handle
// propagation of delay.
func resolveStopReferences(updates []*parse.StopTimeUpdate, events []*storage.StopTimeEvent) {
	type tripAndSeq struct {
		tripID string
		seq    uint32
	}
	stopIDByTripAndSeq := map[tripAndSeq]string{}

	type tripAndStopID struct {
		tripID string
		stopID string
	}
	stopSeqByTripAndStopID := map[tripAndStopID]uint32{}

	for _, event := range events {
		stopIDByTripAndSeq[tripAndSeq{event.Trip.ID, event.StopTime.StopSequence}] = event.Stop.ID
		stopSeqByTripAndStopID[tripAndStopID{event.Trip.ID, event.Stop.ID}] = event.StopTime.StopSequence
	}

	for _, update := range updates {
		if update.StopID != "" {
			// StopSequence 0 could be legit, or it could
			// be unspecified. Attempt to resolve in this
			// case.
			if update.StopSequence == 0 {
				stopSeq, ok := stopSeqByTripAndStopID[tripAndStopID{update.TripID, update.StopID}]
				if ok {
					update.StopSequence = stopSeq
				}
			}
			continue
		}

		stopID, ok := stopIDByTripAndSeq[tripAndSeq{update.TripID, update.StopSequence}]
		if ok {
			update.StopID = stopID
		}
	}
}

// Computes delay of an update, given the corresponding offset from
// the static schedule.
//
// The update doesn't say which service day the offset counts from.
// Days around the update's date are tried, and the one giving the
// smallest delay wins. Counting from noon minus 12h on each day takes
// DST switches into account.
func (rt *Realtime) updateDelay(eventOffset time.Duration, updateTime time.Time) time.Duration {
	timezone := rt.static.Location()
	upTime := updateTime.In(timezone)
	upNoon := time.Date(upTime.Year(), upTime.Month(), upTime.Day(), 12, 0, 0, 0, timezone)

	var best time.Duration
	for i, days := range []int{0, -1, 1} {
		eventTime := upNoon.AddDate(0, 0, days).Add(-12 * time.Hour).Add(eventOffset)
		delay := upTime.Sub(eventTime)
		if i == 0 || delay.Abs() < best.Abs() {
			best = delay
		}
	}

	return best
}

// Construct RealtimeUpdates from StopTimeUpdates and
// StopTimeEvents, grouped by trip instance.
func (rt *Realtime) buildRealtimeUpdates(
	stups []*parse.StopTimeUpdate,
	events []*storage.StopTimeEvent,
) {
	// Group static events by trip, and sort by stop_sequence
	eventsByTrip := map[string][]*storage.StopTimeEvent{}
	for _, event := range events {
		eventsByTrip[event.Trip.ID] = append(eventsByTrip[event.Trip.ID], event)
	}
	for _, events := range eventsByTrip {
		sort.Slice(events, func(i, j int) bool {
			return events[i].StopTime.StopSequence < events[j].StopTime.StopSequence
		})
	}

	updatesByTrip := map[parse.TripInstance][]*parse.StopTimeUpdate{}
	for _, update := range stups {
		key := parse.TripInstance{TripID: update.TripID, StartDate: update.StartDate}
		updatesByTrip[key] = append(updatesByTrip[key], update)
	}
	for _, updates := range updatesByTrip {
		sort.Slice(updates, func(i, j int) bool {
			return updates[i].StopSequence < updates[j].StopSequence
		})
	}

	for trip, tripUpdates := range updatesByTrip {
		events, found := eventsByTrip[trip.TripID]
		if !found {
			// Added trips are not handled
			continue
		}

		ei := 0
		for _, u := range tripUpdates {
			for ; ei < len(events); ei++ {
				if events[ei].StopTime.StopSequence == u.StopSequence {
					break
				}
			}
			if ei >= len(events) {
				break
			}

			rtUp := &RealtimeUpdate{
				StopSequence: u.StopSequence,
				Type:         u.Type,
			}

			// NO_DATA falls back on the static schedule,
			// i.e. delays of 0s. SKIPPED needs no delays.
			if u.Type == parse.StopTimeUpdateNoData || u.Type == parse.StopTimeUpdateSkipped {
				rt.updatesByTrip[trip] = append(rt.updatesByTrip[trip], rtUp)
				continue
			}

			if u.ArrivalIsSet {
				// Feeds can use the timestamp to
				// communicate delays
				rtUp.ArrivalDelay = u.ArrivalDelay
				if !u.ArrivalTime.IsZero() && u.ArrivalDelay == 0 {
					rtUp.ArrivalDelay = rt.updateDelay(events[ei].StopTime.ArrivalTime(), u.ArrivalTime)
				}
			}
			if u.DepartureIsSet {
				rtUp.DepartureDelay = u.DepartureDelay
				if !u.DepartureTime.IsZero() {
					rtUp.DepartureDelay = rt.updateDelay(events[ei].StopTime.DepartureTime(), u.DepartureTime)
				}
			} else {
				// Lacking departure data, the arrival
				// delay applies to departure. An early
				// arrival is a return to schedule.
				rtUp.DepartureDelay = max(rtUp.ArrivalDelay, 0)
			}
			if !u.ArrivalIsSet {
				rtUp.ArrivalDelay = rtUp.DepartureDelay
			}

			rt.minDelay = min(rt.minDelay, rtUp.ArrivalDelay, rtUp.DepartureDelay)
			rt.maxDelay = max(rt.maxDelay, rtUp.ArrivalDelay, rtUp.DepartureDelay)

			rt.updatesByTrip[trip] = append(rt.updatesByTrip[trip], rtUp)
		}
	}
}
