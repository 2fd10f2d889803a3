package request

import (
	"errors"
	"fmt"

	"tidbyt.dev/departureboard/ptref"
)

// A date-time field that couldn't be parsed. Err wraps either
// clock.ErrEmptyTime or a *clock.ParseError.
type TimeParseError struct {
	Field string
	Text  string
	Err   error
}

func (e *TimeParseError) Error() string {
	return fmt.Sprintf("problem parsing %s '%s'", e.Field, e.Text)
}

func (e *TimeParseError) Unwrap() error {
	return e.Err
}

// Neither an end time nor a result count was given, so the query has
// no end.
type MissingTerminationError struct{}

func (e *MissingTerminationError) Error() string {
	return "one of count or max_datetime must be specified"
}

type FilterErrorKind int

const (
	FilterPartial FilterErrorKind = iota
	FilterGlobal
	FilterUnknownObject
)

// A filter that the referential resolver couldn't interpret.
// Fragment holds the unparsed remainder for FilterPartial and the
// offending token for FilterUnknownObject.
type FilterResolveError struct {
	Kind     FilterErrorKind
	Fragment string
	Err      error
}

func (e *FilterResolveError) Error() string {
	switch e.Kind {
	case FilterPartial:
		return fmt.Sprintf("PTReferential: could not parse the whole request. Not interpreted: >>%s<<", e.Fragment)
	case FilterUnknownObject:
		return fmt.Sprintf("unknown object: %s", e.Fragment)
	}
	return "PTReferential: unable to parse the request"
}

func (e *FilterResolveError) Unwrap() error {
	return e.Err
}

// Classifies an error returned by a ptref.Resolver.
func NewFilterResolveError(err error) *FilterResolveError {
	var perr *ptref.ParseError
	if !errors.As(err, &perr) {
		return &FilterResolveError{Kind: FilterGlobal, Err: err}
	}

	fre := &FilterResolveError{Fragment: perr.More, Err: err}
	switch perr.Kind {
	case ptref.ErrorPartial:
		fre.Kind = FilterPartial
	case ptref.ErrorUnknownObject:
		fre.Kind = FilterUnknownObject
	default:
		fre.Kind = FilterGlobal
	}
	return fre
}

// Count or StartPage out of range.
type InvalidPaginationError struct {
	Field string
	Value int
}

func (e *InvalidPaginationError) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.Field, e.Value)
}

// Any other option out of range.
type InvalidOptionError struct {
	Field string
	Value interface{}
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}
