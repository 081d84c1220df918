package prior

import "errors"

var (
	// ErrInsufficientData means there are no events to estimate from.
	ErrInsufficientData = errors.New("insufficient data for global prior")
	// ErrNoPrior means no prior has been computed yet.
	ErrNoPrior = errors.New("global prior not computed")
)
