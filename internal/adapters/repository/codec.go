package repository

import (
	"database/sql"
	"encoding/binary"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/medrank/internal/domain/model"
)

// statRecord is the persisted form of a stats row.
type statRecord struct {
	HospitalID      int64     `json:"hospital_id"`
	TreatmentID     *int64    `json:"treatment_id,omitempty"`
	Country         *string   `json:"country,omitempty"`
	Language        *string   `json:"language,omitempty"`
	Period          string    `json:"period"`
	LeadsSent       int       `json:"leads_sent"`
	LeadsInterested int       `json:"leads_interested"`
	LeadsBooked     int       `json:"leads_booked"`
	LeadsCompleted  int       `json:"leads_completed"`
	InterestRate    float64   `json:"interest_rate"`
	BookingRate     float64   `json:"booking_rate"`
	CompletionRate  float64   `json:"completion_rate"`
	AvgFirstResp    *float64  `json:"avg_first_response_minutes,omitempty"`
	BayesianScore   float64   `json:"bayesian_score"`
	ConfidenceLevel float64   `json:"confidence_level"`
	SampleSize      int       `json:"sample_size"`
	ComputedAt      time.Time `json:"computed_at"`
}

type priorRecord struct {
	InterestRate   float64   `json:"global_interest_rate"`
	BookingRate    float64   `json:"global_booking_rate"`
	CompletionRate float64   `json:"global_completion_rate"`
	SampleSize     int       `json:"sample_size"`
	CalculatedAt   time.Time `json:"last_calculated_at"`
	Version        int64     `json:"version"`
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func toRecord(st model.PerformanceStat) statRecord {
	return statRecord{
		HospitalID:      st.Key.HospitalID,
		TreatmentID:     int64Ptr(st.Key.TreatmentID),
		Country:         stringPtr(st.Key.Country),
		Language:        stringPtr(st.Key.Language),
		Period:          string(st.Key.Period),
		LeadsSent:       st.LeadsSent,
		LeadsInterested: st.LeadsInterested,
		LeadsBooked:     st.LeadsBooked,
		LeadsCompleted:  st.LeadsCompleted,
		InterestRate:    st.InterestRate,
		BookingRate:     st.BookingRate,
		CompletionRate:  st.CompletionRate,
		AvgFirstResp:    float64Ptr(st.AvgFirstResponseMinutes),
		BayesianScore:   st.BayesianScore,
		ConfidenceLevel: st.ConfidenceLevel,
		SampleSize:      st.SampleSize,
		ComputedAt:      st.ComputedAt,
	}
}

func (r statRecord) stat() model.PerformanceStat {
	return model.PerformanceStat{
		Key: model.SegmentKey{
			HospitalID:  r.HospitalID,
			TreatmentID: nullInt64(r.TreatmentID),
			Country:     nullString(r.Country),
			Language:    nullString(r.Language),
			Period:      model.Period(r.Period),
		},
		LeadsSent:               r.LeadsSent,
		LeadsInterested:         r.LeadsInterested,
		LeadsBooked:             r.LeadsBooked,
		LeadsCompleted:          r.LeadsCompleted,
		InterestRate:            r.InterestRate,
		BookingRate:             r.BookingRate,
		CompletionRate:          r.CompletionRate,
		AvgFirstResponseMinutes: nullFloat64(r.AvgFirstResp),
		BayesianScore:           r.BayesianScore,
		ConfidenceLevel:         r.ConfidenceLevel,
		SampleSize:              r.SampleSize,
		ComputedAt:              r.ComputedAt,
	}
}

func encodeStat(st model.PerformanceStat) ([]byte, error) { return json.Marshal(toRecord(st)) }

func decodeStat(b []byte) (model.PerformanceStat, error) {
	var r statRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return model.PerformanceStat{}, err
	}
	return r.stat(), nil
}

// rowKey sorts rows by hospital first so a hospital's rows are contiguous
// within a period bucket: 8-byte hospital id, dimension tag, dimension value.
func rowKey(k model.SegmentKey) []byte {
	b := make([]byte, 9, 9+16)
	binary.BigEndian.PutUint64(b, uint64(k.HospitalID))
	switch k.Dimension() {
	case model.DimensionOverall:
		b[8] = 'o'
	case model.DimensionTreatment:
		b[8] = 't'
		b = binary.BigEndian.AppendUint64(b, uint64(k.TreatmentID.Int64))
	case model.DimensionCountry:
		b[8] = 'c'
		b = append(b, k.Country.String...)
	case model.DimensionLanguage:
		b[8] = 'l'
		b = append(b, k.Language.String...)
	}
	return b
}

func hospitalPrefix(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
