package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID int8   `csv:"direction_id"`
}

func (t *TripCSV) trip(routes, services idSet) (*model.Trip, error) {
	if err := routes.require("route_id", t.RouteID); err != nil {
		return nil, err
	}
	if err := services.require("service_id", t.ServiceID); err != nil {
		return nil, err
	}
	if t.DirectionID != 0 && t.DirectionID != 1 {
		return nil, errors.Errorf("invalid direction_id %d", t.DirectionID)
	}

	return &model.Trip{
		ID:          t.ID,
		RouteID:     t.RouteID,
		ServiceID:   t.ServiceID,
		Headsign:    t.Headsign,
		ShortName:   t.ShortName,
		DirectionID: t.DirectionID,
	}, nil
}

// Parses trips.txt. Returns the set of trip IDs. Routes and services
// must already be known.
func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, error) {
	ids := idSet{}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(t *TripCSV) error {
		row++
		if err := ids.declare("trip_id", t.ID); err != nil {
			return errors.Wrapf(err, "row %d", row)
		}

		trip, err := t.trip(routes, services)
		if err != nil {
			return errors.Wrapf(err, "trip '%s'", t.ID)
		}
		return errors.Wrapf(writer.WriteTrip(trip), "writing trip '%s'", t.ID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing trips csv")
	}

	return ids, nil
}
