// Package types contains the JSON shapes served by the HTTP API and read by
// perfctl.
package types

import (
	"time"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/recommend"
	"github.com/okian/medrank/internal/domain/scoring"
)

// Stat is one performance stats row.
type Stat struct {
	HospitalID              int64     `json:"hospital_id"`
	Period                  string    `json:"period"`
	TreatmentID             *int64    `json:"treatment_id"`
	Country                 *string   `json:"country"`
	Language                *string   `json:"language"`
	LeadsSent               int       `json:"leads_sent"`
	LeadsInterested         int       `json:"leads_interested"`
	LeadsBooked             int       `json:"leads_booked"`
	LeadsCompleted          int       `json:"leads_completed"`
	InterestRate            float64   `json:"interest_rate"`
	BookingRate             float64   `json:"booking_rate"`
	CompletionRate          float64   `json:"completion_rate"`
	AvgFirstResponseMinutes *float64  `json:"avg_first_response_minutes"`
	BayesianScore           float64   `json:"bayesian_score"`
	ConfidenceLevel         float64   `json:"confidence_level"`
	SampleSize              int       `json:"sample_size"`
	ComputedAt              time.Time `json:"computed_at"`
}

// Entry is a ranked row.
type Entry struct {
	Rank int    `json:"rank"`
	Tier string `json:"tier"`
	Stat
}

// Recommendation answers GET /recommendations.
type Recommendation struct {
	Period      string  `json:"period"`
	TreatmentID *int64  `json:"treatment_id,omitempty"`
	Country     *string `json:"country,omitempty"`
	Language    *string `json:"language,omitempty"`
	HasData     bool    `json:"has_data"`
	Matched     int     `json:"matched"`
	Hospitals   []Entry `json:"hospitals"`
}

// HospitalCard answers GET /hospitals/{id}.
type HospitalCard struct {
	HospitalID int64             `json:"hospital_id"`
	Grade      string            `json:"grade,omitempty"`
	Headline   *Stat             `json:"headline"`
	Periods    map[string][]Stat `json:"periods"`
}

// Dashboard answers GET /dashboard.
type Dashboard struct {
	Period    string  `json:"period"`
	Hospitals []Entry `json:"hospitals"`
}

// Prior is the global prior.
type Prior struct {
	InterestRate   float64   `json:"global_interest_rate"`
	BookingRate    float64   `json:"global_booking_rate"`
	CompletionRate float64   `json:"global_completion_rate"`
	SampleSize     int       `json:"sample_size"`
	CalculatedAt   time.Time `json:"last_calculated_at"`
	Version        int64     `json:"version"`
}

// RefreshReport describes one committed period refresh.
type RefreshReport struct {
	RunID          string    `json:"run_id"`
	Period         string    `json:"period"`
	PriorVersion   int64     `json:"prior_version"`
	Scanned        int       `json:"events_scanned"`
	Segments       int       `json:"segments"`
	Dropped        int       `json:"events_dropped"`
	FailedSegments []string  `json:"failed_segments"`
	DurationMs     int64     `json:"duration_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

// RefreshError names a period that did not commit.
type RefreshError struct {
	Period  string `json:"period"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RefreshResponse answers POST /refresh.
type RefreshResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id,omitempty"`
	Reports   []RefreshReport `json:"reports,omitempty"`
	Errors    []RefreshError  `json:"errors,omitempty"`
}

// PeriodSummary describes one materialized period.
type PeriodSummary struct {
	Period     string    `json:"period"`
	Rows       int       `json:"rows"`
	Hospitals  int       `json:"hospitals"`
	ComputedAt time.Time `json:"computed_at"`
}

// Stats answers GET /stats.
type Stats struct {
	Periods       []PeriodSummary `json:"periods"`
	Prior         *Prior          `json:"prior"`
	QueueLength   int             `json:"queue_length"`
	QueueCapacity int             `json:"queue_capacity"`
	Workers       int             `json:"workers"`
	PriorStrength float64         `json:"prior_strength"`
}

// Simulation answers GET /simulate.
type Simulation struct {
	Scenarios []scoring.Outcome `json:"scenarios"`
}

// FromStat converts a stats row.
func FromStat(s model.PerformanceStat) Stat {
	out := Stat{
		HospitalID:      s.Key.HospitalID,
		Period:          s.Key.Period.String(),
		LeadsSent:       s.LeadsSent,
		LeadsInterested: s.LeadsInterested,
		LeadsBooked:     s.LeadsBooked,
		LeadsCompleted:  s.LeadsCompleted,
		InterestRate:    s.InterestRate,
		BookingRate:     s.BookingRate,
		CompletionRate:  s.CompletionRate,
		BayesianScore:   s.BayesianScore,
		ConfidenceLevel: s.ConfidenceLevel,
		SampleSize:      s.SampleSize,
		ComputedAt:      s.ComputedAt,
	}
	if s.Key.TreatmentID.Valid {
		v := s.Key.TreatmentID.Int64
		out.TreatmentID = &v
	}
	if s.Key.Country.Valid {
		v := s.Key.Country.String
		out.Country = &v
	}
	if s.Key.Language.Valid {
		v := s.Key.Language.String
		out.Language = &v
	}
	if s.AvgFirstResponseMinutes.Valid {
		v := s.AvgFirstResponseMinutes.Float64
		out.AvgFirstResponseMinutes = &v
	}
	return out
}

// FromRanked converts ranked rows.
func FromRanked(rows []model.RankedStat) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{Rank: r.Rank, Tier: string(r.Tier), Stat: FromStat(r.PerformanceStat)})
	}
	return out
}

// FromRecommendation converts a recommendation.
func FromRecommendation(r recommend.Recommendation) Recommendation {
	return Recommendation{
		Period:      r.Period.String(),
		TreatmentID: r.Filter.TreatmentID,
		Country:     r.Filter.Country,
		Language:    r.Filter.Language,
		HasData:     r.HasData,
		Matched:     r.Matched,
		Hospitals:   FromRanked(r.Results),
	}
}

// FromCard converts a hospital card.
func FromCard(c recommend.Card) HospitalCard {
	out := HospitalCard{HospitalID: c.HospitalID, Grade: string(c.Grade), Periods: make(map[string][]Stat, len(c.Periods))}
	if c.Headline != nil {
		h := FromStat(*c.Headline)
		out.Headline = &h
	}
	for p, rows := range c.Periods {
		stats := make([]Stat, 0, len(rows))
		for _, r := range rows {
			stats = append(stats, FromStat(r))
		}
		out.Periods[p.String()] = stats
	}
	return out
}

// FromDashboard converts a dashboard.
func FromDashboard(d recommend.Dashboard) Dashboard {
	return Dashboard{Period: d.Period.String(), Hospitals: FromRanked(d.Hospitals)}
}

// FromPrior converts the global prior.
func FromPrior(p model.GlobalPrior) Prior {
	return Prior{
		InterestRate:   p.InterestRate,
		BookingRate:    p.BookingRate,
		CompletionRate: p.CompletionRate,
		SampleSize:     p.SampleSize,
		CalculatedAt:   p.CalculatedAt,
		Version:        p.Version,
	}
}
