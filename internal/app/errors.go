package service

import (
	"errors"

	"github.com/okian/medrank/internal/domain/model"
)

var (
	// ErrRefreshInProgress is returned when another refresh holds the period.
	ErrRefreshInProgress = errors.New("refresh in progress")
	// ErrQueueFull is returned when an async refresh cannot be queued.
	ErrQueueFull = errors.New("refresh queue full")
	// ErrRefreshPending is returned when an identical async refresh is already queued.
	ErrRefreshPending = errors.New("refresh already queued")
	// ErrNotStarted is returned once the service has been stopped.
	ErrNotStarted = errors.New("service not started")
)

// PeriodError is one period's failure inside a multi-period refresh.
type PeriodError struct {
	Period model.Period
	Err    error
}

func (e *PeriodError) Error() string { return e.Period.String() + ": " + e.Err.Error() }

func (e *PeriodError) Unwrap() error { return e.Err }

// PeriodErrors lists the per-period failures carried by err.
func PeriodErrors(err error) []*PeriodError {
	if err == nil {
		return nil
	}
	var errs []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	} else {
		errs = []error{err}
	}
	var out []*PeriodError
	for _, e := range errs {
		var pe *PeriodError
		if errors.As(e, &pe) {
			out = append(out, pe)
		}
	}
	return out
}
