package window

import (
	"fmt"
	"time"

	"tidbyt.dev/departureboard/model"
)

type Status int

const (
	Open Status = iota
	Closed
	Unknown
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Decides what an Unknown status means to callers.
type Policy int

const (
	// Unknown is reported as open.
	Optimistic Policy = iota
	// Unknown is reported as closed.
	Conservative
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "optimistic":
		return Optimistic, nil
	case "conservative":
		return Conservative, nil
	}
	return Optimistic, fmt.Errorf("unknown closure policy '%s'", s)
}

// Per date operating flags of calendars. Date is given as YYYYMMDD.
type CalendarStore interface {
	CalendarOperating(calendarID string, date string) (model.Operating, error)
}

type Classifier struct {
	Calendars CalendarStore
	Policy    Policy
}

// Reports whether a line is closed at a given time of day on a given
// service date.
//
// A line is closed if the calendar says it isn't operating on date,
// or if at falls outside [opening, closing). When the calendar has
// no information for the date, Unknown is returned. An error from
// the calendar store also yields Unknown, along with the error.
func (c *Classifier) LineClosed(
	calendarID string,
	at TimeOfDay,
	opening TimeOfDay,
	closing TimeOfDay,
	date time.Time,
) (Status, error) {
	if !Between(at, opening, closing) {
		return Closed, nil
	}

	if c.Calendars == nil {
		return Unknown, nil
	}

	op, err := c.Calendars.CalendarOperating(calendarID, date.Format("20060102"))
	if err != nil {
		return Unknown, fmt.Errorf("looking up calendar '%s': %w", calendarID, err)
	}

	switch op {
	case model.OperatingYes:
		return Open, nil
	case model.OperatingNo:
		return Closed, nil
	}
	return Unknown, nil
}

// Applies the policy to a status.
func (c *Classifier) IsClosed(s Status) bool {
	switch s {
	case Closed:
		return true
	case Unknown:
		return c.Policy == Conservative
	}
	return false
}
