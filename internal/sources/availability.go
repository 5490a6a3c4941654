package sources

import (
	"context"
	"errors"
)

// Status labels the outcome of a collaborator call.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoResults     Status = "no_results"
	StatusNotConfigured Status = "not_configured"
	StatusUnavailable   Status = "unavailable"
)

// Availability tells the caller whether a section of the report is backed by
// real data.
type Availability struct {
	Source string `json:"source"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the call produced data.
func (a Availability) OK() bool { return a.Status == StatusOK }

// Check converts a client error into an Availability.
func Check(source string, err error) Availability {
	a := Availability{Source: source, Status: StatusOK}
	switch {
	case err == nil:
	case errors.Is(err, ErrNoResults):
		a.Status = StatusNoResults
	case errors.Is(err, ErrNotConfigured):
		a.Status = StatusNotConfigured
	case errors.Is(err, context.Canceled):
		a.Status = StatusUnavailable
		a.Reason = "canceled"
	default:
		a.Status = StatusUnavailable
		a.Reason = err.Error()
	}
	return a
}
