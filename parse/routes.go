package parse

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	URL       string `csv:"route_url"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`

	// Not part of the GTFS reference. Feeds exported from
	// Navitia-style datasets group routes into lines with it. A
	// route without one is a line of its own.
	LineID string `csv:"line_id"`
}

// Basic route types, plus the extended (100-1702) range.
func legalRouteType(t model.RouteType) bool {
	return (t >= 0 && t <= 7) ||
		t == model.RouteTypeTrolleybus ||
		t == model.RouteTypeMonorail ||
		(t >= 100 && t <= 1702)
}

// Hex RGB, or the fallback when unset.
func routeColor(color, fallback string) (string, bool) {
	if color == "" {
		return fallback, true
	}
	_, err := hex.DecodeString(color)
	return color, len(color) == 6 && err == nil
}

func (r *RouteCSV) route(agencies idSet) (*model.Route, error) {
	if r.AgencyID == "" && len(agencies) > 1 {
		return nil, errors.New("agency_id required when there are multiple agencies")
	}
	if r.AgencyID != "" {
		if err := agencies.require("agency_id", r.AgencyID); err != nil {
			return nil, err
		}
	}

	if r.ShortName == "" && r.LongName == "" {
		return nil, errors.New("route_short_name or route_long_name required")
	}

	routeType, err := strconv.Atoi(r.Type)
	if err != nil || !legalRouteType(model.RouteType(routeType)) {
		return nil, errors.Errorf("invalid route_type '%s'", r.Type)
	}

	color, ok := routeColor(r.Color, "FFFFFF")
	if !ok {
		return nil, errors.Errorf("invalid route_color '%s'", r.Color)
	}
	textColor, ok := routeColor(r.TextColor, "000000")
	if !ok {
		return nil, errors.Errorf("invalid route_text_color '%s'", r.TextColor)
	}

	line := r.LineID
	if line == "" {
		line = r.ID
	}

	return &model.Route{
		ID:        r.ID,
		AgencyID:  r.AgencyID,
		LineID:    line,
		ShortName: r.ShortName,
		LongName:  r.LongName,
		Desc:      r.Desc,
		Type:      model.RouteType(routeType),
		URL:       r.URL,
		Color:     color,
		TextColor: textColor,
	}, nil
}

// Parses routes.txt. Returns the set of route IDs.
func ParseRoutes(writer storage.FeedWriter, data io.Reader, agencies map[string]bool) (map[string]bool, error) {
	rows := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling routes csv")
	}

	ids := idSet{}
	for _, row := range rows {
		if err := ids.declare("route_id", row.ID); err != nil {
			return nil, err
		}

		route, err := row.route(agencies)
		if err != nil {
			return nil, errors.Wrapf(err, "route '%s'", row.ID)
		}
		if err := writer.WriteRoute(route); err != nil {
			return nil, errors.Wrapf(err, "writing route '%s'", row.ID)
		}
	}

	return ids, nil
}
