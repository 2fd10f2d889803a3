package testutil

// Helpers and configuration for tests.

import (
	"archive/zip"
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/parse"
	"tidbyt.dev/departureboard/storage"
)

// Connection string for postgres tests. These are skipped unless
// set.
const PostgresEnv = "DEPARTUREBOARD_TEST_POSTGRES"

// Storage backends to run tests against.
func Backends() []string {
	backends := []string{"memory", "sqlite"}
	if os.Getenv(PostgresEnv) != "" {
		backends = append(backends, "postgres")
	}
	return backends
}

func BuildStorage(t testing.TB, backend string) storage.Storage {
	var s storage.Storage
	var err error
	switch backend {
	case "memory":
		s = storage.NewMemoryStorage()
	case "sqlite":
		s, err = storage.NewSQLiteStorage()
		require.NoError(t, err)
	case "postgres":
		s, err = storage.NewPSQLStorage(os.Getenv(PostgresEnv), true)
		require.NoError(t, err)
	}
	require.NotNil(t, s, "unknown backend %q", backend)

	return s
}

func LoadStatic(t testing.TB, backend string, buf []byte) *departureboard.Static {
	s := BuildStorage(t, backend)

	feedWriter, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := parse.ParseStatic(feedWriter, buf)
	require.NoError(t, err)

	require.NoError(t, feedWriter.Close())

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	static, err := departureboard.NewStatic(reader, metadata)
	require.NoError(t, err)

	return static
}

// Builds a Static from GTFS file contents, one line per string.
// Missing required files are filled in with (mostly blank) dummy
// data.
func BuildStatic(
	t testing.TB,
	backend string,
	files map[string][]string,
) *departureboard.Static {
	return LoadStatic(t, backend, BuildZip(t, files))
}

func BuildZip(
	t testing.TB,
	files map[string][]string,
) []byte {
	if files["agency.txt"] == nil {
		files["agency.txt"] = []string{"agency_timezone,agency_name,agency_url", "UTC,FooAgency,http://example.com"}
	}
	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		files["calendar.txt"] = []string{"service_id"}
	}
	if files["routes.txt"] == nil {
		files["routes.txt"] = []string{"route_id"}
	}
	if files["trips.txt"] == nil {
		files["trips.txt"] = []string{"trip_id"}
	}
	if files["stops.txt"] == nil {
		files["stops.txt"] = []string{"stop_id"}
	}
	if files["stop_times.txt"] == nil {
		files["stop_times.txt"] = []string{"stop_id"}
	}

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// Helpers for building gtfs-realtime feeds
type StopUpdate struct {
	ArrivalSet     bool
	ArrivalDelay   int32
	ArrivalTime    time.Time
	DepartureSet   bool
	DepartureDelay int32
	DepartureTime  time.Time
	StopID         string
	StopSequence   uint32
	SchedRel       string
}

type TripUpdate struct {
	TripID      string
	StartDate   string
	StopUpdates []StopUpdate
	Canceled    bool
}

func BuildRealtimeFeed(t testing.TB, tripUpdates []TripUpdate) []byte {
	entity := make([]*gtfsproto.FeedEntity, 0, len(tripUpdates))

	for _, tripUpdate := range tripUpdates {
		stopTimeUpdate := make([]*gtfsproto.TripUpdate_StopTimeUpdate, 0, len(tripUpdate.StopUpdates))

		for _, stopUpdate := range tripUpdate.StopUpdates {
			var scheduleRelationship gtfsproto.TripUpdate_StopTimeUpdate_ScheduleRelationship
			switch stopUpdate.SchedRel {
			case "SKIPPED":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED
			case "NO_DATA":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA
			case "", "SCHEDULED":
				scheduleRelationship = gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED
			default:
				t.Fatalf("bad SchedRel: %s", stopUpdate.SchedRel)
			}

			stup := &gtfsproto.TripUpdate_StopTimeUpdate{
				ScheduleRelationship: &scheduleRelationship,
				StopSequence:         proto.Uint32(stopUpdate.StopSequence),
				StopId:               proto.String(stopUpdate.StopID),
			}
			if stopUpdate.DepartureSet {
				departureTime := int64(0)
				if !stopUpdate.DepartureTime.IsZero() {
					departureTime = stopUpdate.DepartureTime.Unix()
				}
				stup.Departure = &gtfsproto.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(stopUpdate.DepartureDelay),
					Time:  proto.Int64(departureTime),
				}
			}
			if stopUpdate.ArrivalSet {
				arrivalTime := int64(0)
				if !stopUpdate.ArrivalTime.IsZero() {
					arrivalTime = stopUpdate.ArrivalTime.Unix()
				}
				stup.Arrival = &gtfsproto.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(stopUpdate.ArrivalDelay),
					Time:  proto.Int64(arrivalTime),
				}
			}

			stopTimeUpdate = append(stopTimeUpdate, stup)
		}

		tripScheduleRelationship := gtfsproto.TripDescriptor_SCHEDULED
		if tripUpdate.Canceled {
			tripScheduleRelationship = gtfsproto.TripDescriptor_CANCELED
		}
		trip := &gtfsproto.TripDescriptor{
			TripId:               proto.String(tripUpdate.TripID),
			ScheduleRelationship: &tripScheduleRelationship,
		}
		if tripUpdate.StartDate != "" {
			trip.StartDate = proto.String(tripUpdate.StartDate)
		}
		entity = append(entity, &gtfsproto.FeedEntity{
			Id: proto.String(tripUpdate.TripID),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip:           trip,
				StopTimeUpdate: stopTimeUpdate,
			},
		})
	}

	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	timestamp := uint64(time.Date(2020, 1, 15, 23, 0, 0, 0, time.UTC).Unix())
	header := &gtfsproto.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      &incrementality,
		Timestamp:           proto.Uint64(timestamp),
	}

	data, err := proto.Marshal(&gtfsproto.FeedMessage{Header: header, Entity: entity})
	require.NoError(t, err)

	return data
}
