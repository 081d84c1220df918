package recommend

import "errors"

// ErrHospitalNotFound is returned by Show when a hospital has no stats rows.
var ErrHospitalNotFound = errors.New("hospital not found")
