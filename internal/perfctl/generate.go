package perfctl

import (
	"database/sql"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// GenerateConfig shapes a synthetic event log.
type GenerateConfig struct {
	Events     int
	Hospitals  int
	Treatments int
	Days       int
	Seed       uint64
	Now        time.Time
}

var (
	countries = []string{"KR", "TR", "TH", "DE", "US", "AE"}
	languages = []string{"en", "ko", "tr", "de", "ar", "ru"}

	// open statuses a responsive hospital moves a lead through
	engaged = []model.ResponseStatus{
		model.StatusInterested, model.StatusContacted, model.StatusConsultation, model.StatusQuoted,
	}
)

// Generate builds a reproducible event log. Every hospital gets a hidden
// booking propensity so rankings come out stable across runs with one seed.
func Generate(cfg GenerateConfig) ([]model.RawOutcomeEvent, error) {
	switch {
	case cfg.Events <= 0:
		return nil, errors.New("events must be positive")
	case cfg.Hospitals <= 0:
		return nil, errors.New("hospitals must be positive")
	case cfg.Treatments <= 0:
		return nil, errors.New("treatments must be positive")
	case cfg.Days <= 0:
		return nil, errors.New("days must be positive")
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	propensity := make([]float64, cfg.Hospitals)
	for i := range propensity {
		propensity[i] = 0.05 + rng.Float64()*0.55
	}

	window := time.Duration(cfg.Days) * 24 * time.Hour
	out := make([]model.RawOutcomeEvent, 0, cfg.Events)
	for i := 0; i < cfg.Events; i++ {
		h := rng.IntN(cfg.Hospitals)
		e := model.RawOutcomeEvent{
			ID:         int64(i + 1),
			InquiryID:  int64(i/3 + 1),
			HospitalID: int64(h + 1),
			SentAt:     cfg.Now.Add(-time.Duration(rng.Int64N(int64(window)))),
			Status:     pickStatus(rng, propensity[h]),
		}
		if rng.Float64() < 0.9 {
			e.TreatmentID = sql.NullInt64{Int64: int64(rng.IntN(cfg.Treatments) + 1), Valid: true}
		}
		if rng.Float64() < 0.85 {
			e.Country = sql.NullString{String: countries[rng.IntN(len(countries))], Valid: true}
		}
		if rng.Float64() < 0.8 {
			e.Language = sql.NullString{String: languages[rng.IntN(len(languages))], Valid: true}
		}
		if e.Status != model.StatusPending {
			delay := time.Duration(5+rng.IntN(48*60)) * time.Minute
			if at := e.SentAt.Add(delay); at.Before(cfg.Now) {
				e.FirstResponseAt = sql.NullTime{Time: at, Valid: true}
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func pickStatus(rng *rand.Rand, p float64) model.ResponseStatus {
	r := rng.Float64()
	switch {
	case r < p*0.3:
		return model.StatusCompleted
	case r < p:
		return model.StatusBooked
	case r < p+0.25:
		return engaged[rng.IntN(len(engaged))]
	case r < p+0.4:
		return model.StatusNotInterested
	default:
		return model.StatusPending
	}
}
