// Package ptref resolves textual filters into sets of public
// transport objects.
//
// Filters are boolean expressions over the attributes of a route
// point: its stop point, the stop area (parent station) of that
// stop, its route, line and network. For example:
//
//	stop_point.id == "gdn_1" and route.type == 1
//	line.id in ["A", "B"] or stop_area.name startsWith "Gare"
//
// The legacy form `kind.attribute=value` is accepted too, with
// unquoted values.
package ptref

import (
	"fmt"

	"golang.org/x/exp/slices"

	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/storage"
)

type Kind int

const (
	KindRoutePoint Kind = iota
	KindStopPoint
	KindStopArea
	KindRoute
	KindLine
	KindNetwork
)

// Indexed by Kind.
var kindNames = []string{
	"route_point",
	"stop_point",
	"stop_area",
	"route",
	"line",
	"network",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return KindRoutePoint, false
}

// Turns filters into route points, the unit departures are queried
// for. An empty filter selects every route point.
type Resolver interface {
	RoutePoints(filter string) ([]model.RoutePoint, error)
}

type ErrorKind int

const (
	// Only a prefix of the filter could be parsed.
	ErrorPartial ErrorKind = iota
	// Nothing in the filter could be parsed.
	ErrorGlobal
	// The filter references an unknown object or attribute.
	ErrorUnknownObject
)

// Failure to interpret a filter. More holds the unparsed remainder
// for ErrorPartial, and the offending token for ErrorUnknownObject.
type ParseError struct {
	Kind ErrorKind
	More string
	Err  error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrorPartial:
		return fmt.Sprintf("filter partially parsed, remainder: %s", e.More)
	case ErrorUnknownObject:
		return fmt.Sprintf("unknown object: %s", e.More)
	}
	if e.Err != nil {
		return fmt.Sprintf("filter could not be parsed: %v", e.Err)
	}
	return "filter could not be parsed"
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// The route points of a dataset, along with the objects they
// reference. Immutable once built, and safe for concurrent use.
type Index struct {
	points []entry
}

type entry struct {
	point model.RoutePoint
	env   pointEnv
}

// Builds an Index from a feed.
func NewIndex(reader storage.FeedReader) (*Index, error) {
	stops, err := reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("getting stops: %w", err)
	}
	routes, err := reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("getting routes: %w", err)
	}
	agencies, err := reader.Agencies()
	if err != nil {
		return nil, fmt.Errorf("getting agencies: %w", err)
	}
	rps, err := reader.RoutePoints()
	if err != nil {
		return nil, fmt.Errorf("getting route points: %w", err)
	}

	stopByID := map[string]*model.Stop{}
	for _, s := range stops {
		stopByID[s.ID] = s
	}
	routeByID := map[string]*model.Route{}
	for _, r := range routes {
		routeByID[r.ID] = r
	}
	agencyByID := map[string]*model.Agency{}
	for _, a := range agencies {
		agencyByID[a.ID] = a
	}

	idx := &Index{points: make([]entry, 0, len(rps))}
	for _, rp := range rps {
		env := pointEnv{
			StopPoint: stopEnv{ID: rp.StopID, URI: rp.StopID},
			Route:     routeEnv{ID: rp.RouteID, URI: rp.RouteID},
			Line:      lineEnv{ID: rp.RouteID, URI: rp.RouteID},
		}

		if stop := stopByID[rp.StopID]; stop != nil {
			env.StopPoint = newStopEnv(stop)
			if parent := stopByID[stop.ParentStation]; parent != nil {
				env.StopArea = newStopEnv(parent)
			}
		}

		if route := routeByID[rp.RouteID]; route != nil {
			env.Route = routeEnv{
				ID:        route.ID,
				URI:       route.ID,
				ShortName: route.ShortName,
				LongName:  route.LongName,
				Type:      int(route.Type),
			}
			if route.LineID != "" {
				env.Line = lineEnv{ID: route.LineID, URI: route.LineID}
			}
			env.Line.Code = route.ShortName
			env.Line.Name = route.LongName

			agency := agencyByID[route.AgencyID]
			if agency == nil && len(agencies) == 1 {
				agency = agencies[0]
			}
			if agency != nil {
				env.Network = networkEnv{ID: agency.ID, URI: agency.ID, Name: agency.Name}
			}
		}

		idx.points = append(idx.points, entry{point: rp, env: env})
	}

	return idx, nil
}

func newStopEnv(s *model.Stop) stopEnv {
	return stopEnv{
		ID:   s.ID,
		URI:  s.ID,
		Name: s.Name,
		Code: s.Code,
		Lat:  s.Lat,
		Lon:  s.Lon,
	}
}

func (idx *Index) match(filter string) ([]*entry, error) {
	matched := []*entry{}

	if filter == "" {
		for i := range idx.points {
			matched = append(matched, &idx.points[i])
		}
		return matched, nil
	}

	f, err := compile(filter)
	if err != nil {
		return nil, err
	}

	for i := range idx.points {
		ok, err := f.match(idx.points[i].env)
		if err != nil {
			return nil, &ParseError{Kind: ErrorGlobal, Err: err}
		}
		if ok {
			matched = append(matched, &idx.points[i])
		}
	}

	return matched, nil
}

func (idx *Index) RoutePoints(filter string) ([]model.RoutePoint, error) {
	matched, err := idx.match(filter)
	if err != nil {
		return nil, err
	}

	rps := make([]model.RoutePoint, 0, len(matched))
	for _, p := range matched {
		rps = append(rps, p.point)
	}
	return rps, nil
}

// IDs of objects of the given kind referenced by route points
// matching filter, sorted. Route points are identified as
// "stop_id|route_id".
func (idx *Index) Resolve(kind Kind, filter string) ([]string, error) {
	matched, err := idx.match(filter)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, p := range matched {
		var id string
		switch kind {
		case KindRoutePoint:
			id = p.point.StopID + "|" + p.point.RouteID
		case KindStopPoint:
			id = p.env.StopPoint.ID
		case KindStopArea:
			id = p.env.StopArea.ID
		case KindRoute:
			id = p.env.Route.ID
		case KindLine:
			id = p.env.Line.ID
		case KindNetwork:
			id = p.env.Network.ID
		default:
			return nil, fmt.Errorf("unsupported kind %s", kind)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Parent station of every stop point that has one.
func (idx *Index) StopAreas() map[string]string {
	areas := map[string]string{}
	for _, p := range idx.points {
		if p.env.StopArea.ID != "" {
			areas[p.point.StopID] = p.env.StopArea.ID
		}
	}
	return areas
}

// Line of every route.
func (idx *Index) Lines() map[string]string {
	lines := map[string]string{}
	for _, p := range idx.points {
		lines[p.point.RouteID] = p.env.Line.ID
	}
	return lines
}
