package model

import "time"

// RefreshRequest asks for the given periods to be rebuilt.
type RefreshRequest struct {
	ID          string
	Periods     []Period
	Reason      string
	RequestedAt time.Time
}
