package lpgs

import "fmt"

// ParseError reports a log document that could not be read or is malformed.
// The record is skipped; the rest of the partition carries on.
type ParseError struct {
	Path  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// InvalidPassIDError reports a pass id that has no sensor or no valid date.
type InvalidPassIDError struct {
	PassID string
	Reason string
}

func (e *InvalidPassIDError) Error() string {
	return fmt.Sprintf("invalid pass id %q: %s", e.PassID, e.Reason)
}
