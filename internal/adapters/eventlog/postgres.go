package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/medrank/internal/domain/model"
)

const scanEventsSQL = `
SELECT id, inquiry_id, hospital_id,
       CASE WHEN treatment_id > 0 THEN treatment_id END,
       NULLIF(btrim(country), ''), NULLIF(btrim(language), ''),
       sent_at, response_status, first_response_at
  FROM hospital_responses
 WHERE sent_at >= $1
 ORDER BY id`

// Postgres reads the hospital_responses table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a source over an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Scan implements Source. Rows are streamed, not buffered.
func (p *Postgres) Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error {
	rows, err := p.pool.Query(ctx, scanEventsSQL, since)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var (
		e      model.RawOutcomeEvent
		status string
	)
	_, err = pgx.ForEachRow(rows, []any{
		&e.ID, &e.InquiryID, &e.HospitalID, &e.TreatmentID, &e.Country, &e.Language,
		&e.SentAt, &status, &e.FirstResponseAt,
	}, func() error {
		ev := e.Normalized()
		ev.Status = model.ResponseStatus(status)
		return fn(ev)
	})
	if err != nil {
		return fmt.Errorf("scan hospital_responses: %w", err)
	}
	return nil
}

var (
	_ Source = (*Postgres)(nil)
	_ Source = (*JSONL)(nil)
	_ Source = (*Memory)(nil)
)
