package api

import (
	"time"

	"tidbyt.dev/departureboard"
)

type Departure struct {
	StopPoint   string    `json:"stop_point"`
	Route       string    `json:"route"`
	Line        string    `json:"line"`
	Trip        string    `json:"trip"`
	Headsign    string    `json:"headsign,omitempty"`
	DirectionID int8      `json:"direction_id"`
	DateTime    string    `json:"date_time"`
	Time        time.Time `json:"time"`
	RTLevel     string    `json:"rt_level"`

	// Seconds.
	Delay int `json:"delay,omitempty"`

	Closed bool `json:"closed,omitempty"`
}

type Failure struct {
	StopPoint string `json:"stop_point"`
	Route     string `json:"route"`
	Error     string `json:"error"`
}

type Response struct {
	Departures []Departure               `json:"departures"`
	Pagination departureboard.Pagination `json:"pagination"`
	Failures   []Failure                 `json:"failures,omitempty"`
}

func render(result *departureboard.Result, static *departureboard.Static) Response {
	production := static.Production()

	resp := Response{
		Departures: make([]Departure, 0, len(result.Departures)),
		Pagination: result.Pagination,
	}

	for _, dep := range result.Departures {
		resp.Departures = append(resp.Departures, Departure{
			StopPoint:   dep.StopID,
			Route:       dep.RouteID,
			Line:        dep.LineID,
			Trip:        dep.TripID,
			Headsign:    dep.Headsign,
			DirectionID: dep.DirectionID,
			DateTime:    dep.Time.Format(production),
			Time:        static.Absolute(dep.Time),
			RTLevel:     dep.RTLevel.String(),
			Delay:       int(dep.Delay / time.Second),
			Closed:      dep.Closed,
		})
	}

	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, Failure{
			StopPoint: f.Pair.StopID,
			Route:     f.Pair.RouteID,
			Error:     f.Err.Error(),
		})
	}

	return resp
}
