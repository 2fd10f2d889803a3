package storage

import (
	"sort"
	"time"

	"tidbyt.dev/departureboard/model"
)

var weekdayColumns = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

// Operating status according to the regular weekly pattern of a
// calendar, ignoring exceptions.
func calendarRangeOperating(cal *model.Calendar, date string, weekday time.Weekday) model.Operating {
	if date < cal.StartDate || date > cal.EndDate {
		return model.OperatingUnknown
	}
	if cal.Weekday&(1<<weekday) != 0 {
		return model.OperatingYes
	}
	return model.OperatingNo
}

func sortRoutePoints(rps []model.RoutePoint) {
	sort.Slice(rps, func(i, j int) bool {
		if rps[i].StopID != rps[j].StopID {
			return rps[i].StopID < rps[j].StopID
		}
		return rps[i].RouteID < rps[j].RouteID
	})
}

// Events are ordered by departure, with trip ID breaking ties so
// that all backends agree.
func sortEvents(events []*StopTimeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].StopTime, events[j].StopTime
		if a.Departure != b.Departure {
			return a.Departure < b.Departure
		}
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		return a.StopSequence < b.StopSequence
	})
}
