package parse

import (
	"context"
	"sort"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	proto "google.golang.org/protobuf/proto"
)

type StopTimeUpdateScheduleRelationship int

const (
	StopTimeUpdateScheduled StopTimeUpdateScheduleRelationship = iota
	StopTimeUpdateSkipped
	StopTimeUpdateNoData
)

type StopTimeUpdate struct {
	TripID         string
	StartDate      string
	StopID         string
	StopSequence   uint32
	ArrivalIsSet   bool
	ArrivalTime    time.Time
	ArrivalDelay   time.Duration
	DepartureIsSet bool
	DepartureTime  time.Time
	DepartureDelay time.Duration
	Type           StopTimeUpdateScheduleRelationship
}

// A trip on a given service day. An empty StartDate matches the trip
// on every day.
type TripInstance struct {
	TripID    string
	StartDate string
}

// Trip updates and cancellations merged from one or more GTFS
// Realtime feeds.
//
// A trip instance mentioned in several places is described by its
// most recent TripUpdate only. Ties go to the feed given last.
type Realtime struct {
	// Most recent feed timestamp.
	Timestamp uint64
	Canceled  map[TripInstance]bool
	Updates   []*StopTimeUpdate

	// Trip instances by schedule relationship, after merging.
	NumScheduledTrips   int
	NumAddedTrips       int
	NumUnscheduledTrips int
	NumCanceledTrips    int
	NumDuplicatedTrips  int
}

// One feed's trip updates, in feed order.
type decodedFeed struct {
	index     int
	timestamp uint64
	trips     []*tripState
}

// What a single TripUpdate entity says about a trip instance.
type tripState struct {
	instance     TripInstance
	timestamp    uint64
	relationship gtfsproto.TripDescriptor_ScheduleRelationship
	updates      []*StopTimeUpdate
}

// Decodes feeds concurrently and merges them.
func ParseRealtime(ctx context.Context, feeds [][]byte) (*Realtime, error) {
	p := pool.NewWithResults[*decodedFeed]().WithContext(ctx)
	for i, feed := range feeds {
		p.Go(func(ctx context.Context) (*decodedFeed, error) {
			decoded, err := decodeFeed(ctx, feed)
			if err != nil {
				return nil, errors.Wrapf(err, "feed %d", i)
			}
			decoded.index = i
			return decoded, nil
		})
	}

	decoded, err := p.Wait()
	if err != nil {
		return nil, err
	}

	// Completion order is arbitrary
	sort.Slice(decoded, func(i, j int) bool {
		return decoded[i].index < decoded[j].index
	})

	return merge(decoded), nil
}

func decodeFeed(ctx context.Context, data []byte) (*decodedFeed, error) {
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(data, f)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling protobuf")
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, errors.Errorf("version %s not supported", version)
	}

	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, errors.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}

	decoded := &decodedFeed{timestamp: header.GetTimestamp()}

	for _, entity := range f.GetEntity() {
		if entity.TripUpdate == nil || entity.GetIsDeleted() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, err := decodeTripUpdate(entity.TripUpdate, decoded.timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "entity %s", entity.GetId())
		}
		if state != nil {
			decoded.trips = append(decoded.trips, state)
		}
	}

	return decoded, nil
}

// Returns nil for trip updates that can't be tied to a trip.
func decodeTripUpdate(tu *gtfsproto.TripUpdate, feedTimestamp uint64) (*tripState, error) {
	trip := tu.Trip
	if trip == nil {
		return nil, errors.New("trip_update missing trip")
	}

	// start_date disambiguates trips running past midnight,
	// whose instances on consecutive service days can overlap.
	startDate := trip.GetStartDate()
	if startDate != "" {
		if _, err := time.Parse("20060102", startDate); err != nil {
			return nil, errors.Wrapf(err, "trip '%s' has invalid start_date", trip.GetTripId())
		}
	}

	// Trips may be identified by route, direction and start time
	// instead, or be frequency based. Neither is supported.
	if trip.GetTripId() == "" {
		return nil, nil
	}

	state := &tripState{
		instance:     TripInstance{TripID: trip.GetTripId(), StartDate: startDate},
		timestamp:    tu.GetTimestamp(),
		relationship: trip.GetScheduleRelationship(),
	}
	if state.timestamp == 0 {
		state.timestamp = feedTimestamp
	}

	if state.relationship != gtfsproto.TripDescriptor_SCHEDULED {
		return state, nil
	}

	for _, update := range tu.GetStopTimeUpdate() {
		stup, err := decodeStopTimeUpdate(state.instance, update)
		if err != nil {
			return nil, errors.Wrap(err, "processing stop time update")
		}
		if stup != nil {
			state.updates = append(state.updates, stup)
		}
	}

	return state, nil
}

func stopTimeEvent(event *gtfsproto.TripUpdate_StopTimeEvent) (time.Time, time.Duration) {
	var at time.Time
	if unix := event.GetTime(); unix != 0 {
		at = time.Unix(unix, 0).UTC()
	}
	return at, time.Duration(event.GetDelay()) * time.Second
}

// Returns nil for updates on unscheduled stops, which only exist on
// frequency based trips.
func decodeStopTimeUpdate(
	trip TripInstance,
	update *gtfsproto.TripUpdate_StopTimeUpdate,
) (*StopTimeUpdate, error) {
	stup := &StopTimeUpdate{
		TripID:       trip.TripID,
		StartDate:    trip.StartDate,
		StopID:       update.GetStopId(),
		StopSequence: update.GetStopSequence(),
	}

	// XXX: stop_sequence 0 is valid, but indistinguishable from
	// an unset one here.
	if stup.StopID == "" && stup.StopSequence == 0 {
		return nil, errors.Errorf("stop_time_update for trip '%s' missing stop_id and stop_sequence", trip.TripID)
	}

	if update.Arrival != nil {
		stup.ArrivalIsSet = true
		stup.ArrivalTime, stup.ArrivalDelay = stopTimeEvent(update.Arrival)
	}
	if update.Departure != nil {
		stup.DepartureIsSet = true
		stup.DepartureTime, stup.DepartureDelay = stopTimeEvent(update.Departure)
	}

	switch update.GetScheduleRelationship() {
	case gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED:
		stup.Type = StopTimeUpdateScheduled
	case gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED:
		stup.Type = StopTimeUpdateSkipped
	case gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA:
		stup.Type = StopTimeUpdateNoData
	default:
		return nil, nil
	}

	return stup, nil
}

func merge(feeds []*decodedFeed) *Realtime {
	rt := &Realtime{
		Canceled: map[TripInstance]bool{},
		Updates:  []*StopTimeUpdate{},
	}

	latest := map[TripInstance]*tripState{}
	order := []TripInstance{}
	for _, feed := range feeds {
		rt.Timestamp = max(rt.Timestamp, feed.timestamp)

		for _, state := range feed.trips {
			prev, found := latest[state.instance]
			if !found {
				order = append(order, state.instance)
			} else if prev.timestamp > state.timestamp {
				continue
			}
			latest[state.instance] = state
		}
	}

	for _, instance := range order {
		state := latest[instance]

		switch state.relationship {
		case gtfsproto.TripDescriptor_SCHEDULED:
			rt.Updates = append(rt.Updates, state.updates...)
			rt.NumScheduledTrips++
		case gtfsproto.TripDescriptor_CANCELED:
			rt.Canceled[instance] = true
			rt.NumCanceledTrips++
		case gtfsproto.TripDescriptor_ADDED:
			rt.NumAddedTrips++
		case gtfsproto.TripDescriptor_UNSCHEDULED:
			rt.NumUnscheduledTrips++
		case gtfsproto.TripDescriptor_DUPLICATED:
			rt.NumDuplicatedTrips++
		}
	}

	return rt
}
