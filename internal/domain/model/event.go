// Package model contains the domain types shared by the estimator, the
// aggregator, the scorer, the stats store and the query engine.
package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ResponseStatus is the current state of a lead at a hospital.
type ResponseStatus string

const (
	StatusPending       ResponseStatus = "pending"
	StatusInterested    ResponseStatus = "interested"
	StatusNotInterested ResponseStatus = "not_interested"
	StatusContacted     ResponseStatus = "contacted"
	StatusConsultation  ResponseStatus = "consultation"
	StatusQuoted        ResponseStatus = "quoted"
	StatusBooked        ResponseStatus = "booked"
	StatusCompleted     ResponseStatus = "completed"
	StatusCancelled     ResponseStatus = "cancelled"
)

var knownStatuses = map[ResponseStatus]struct{}{
	StatusPending: {}, StatusInterested: {}, StatusNotInterested: {}, StatusContacted: {},
	StatusConsultation: {}, StatusQuoted: {}, StatusBooked: {}, StatusCompleted: {}, StatusCancelled: {},
}

// Valid reports whether s is one of the known statuses.
func (s ResponseStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsInterested counts toward leads_interested.
func (s ResponseStatus) IsInterested() bool { return s == StatusInterested }

// IsBooked counts toward leads_booked; a completed treatment was booked first.
func (s ResponseStatus) IsBooked() bool { return s == StatusBooked || s == StatusCompleted }

// IsCompleted counts toward leads_completed.
func (s ResponseStatus) IsCompleted() bool { return s == StatusCompleted }

// RawOutcomeEvent is one lead forwarded to one hospital, as last observed.
// The engine only reads these.
type RawOutcomeEvent struct {
	ID              int64
	InquiryID       int64
	HospitalID      int64
	TreatmentID     sql.NullInt64
	Country         sql.NullString
	Language        sql.NullString
	SentAt          time.Time
	Status          ResponseStatus
	FirstResponseAt sql.NullTime
}

// Check reports why an event cannot be counted, or nil.
func (e RawOutcomeEvent) Check() error {
	switch {
	case !e.Status.Valid():
		return fmt.Errorf("event %d: unknown status %q", e.ID, e.Status)
	case e.SentAt.IsZero():
		return fmt.Errorf("event %d: missing sent_at", e.ID)
	case e.FirstResponseAt.Valid && e.FirstResponseAt.Time.Before(e.SentAt):
		return fmt.Errorf("event %d: first response precedes sent_at", e.ID)
	}
	return nil
}

// ResponseMinutes is the first-response latency, when the hospital responded.
func (e RawOutcomeEvent) ResponseMinutes() (float64, bool) {
	if !e.FirstResponseAt.Valid {
		return 0, false
	}
	return e.FirstResponseAt.Time.Sub(e.SentAt).Minutes(), true
}

// Normalized trims dimension values and turns blank strings and non-positive
// treatment ids into nulls, so an absent dimension has exactly one spelling.
func (e RawOutcomeEvent) Normalized() RawOutcomeEvent {
	if e.TreatmentID.Valid && e.TreatmentID.Int64 <= 0 {
		e.TreatmentID = sql.NullInt64{}
	}
	e.Country = normalizeDimension(e.Country)
	e.Language = normalizeDimension(e.Language)
	return e
}

func normalizeDimension(v sql.NullString) sql.NullString {
	if !v.Valid {
		return v
	}
	s := strings.TrimSpace(v.String)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
