package eventlog

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
)

const maxLineBytes = 1 << 20

// Record is the JSON-lines wire form of one event.
type Record struct {
	ID              int64      `json:"id"`
	InquiryID       int64      `json:"inquiry_id"`
	HospitalID      int64      `json:"hospital_id"`
	TreatmentID     *int64     `json:"treatment_id,omitempty"`
	Country         *string    `json:"country,omitempty"`
	Language        *string    `json:"language,omitempty"`
	SentAt          time.Time  `json:"sent_at"`
	Status          string     `json:"response_status"`
	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`
}

// Event converts the wire form into the domain event. Blank dimensions become
// nulls.
func (r Record) Event() model.RawOutcomeEvent {
	e := model.RawOutcomeEvent{
		ID:         r.ID,
		InquiryID:  r.InquiryID,
		HospitalID: r.HospitalID,
		SentAt:     r.SentAt,
		Status:     model.ResponseStatus(r.Status),
	}
	if r.TreatmentID != nil {
		e.TreatmentID = sql.NullInt64{Int64: *r.TreatmentID, Valid: true}
	}
	if r.Country != nil {
		e.Country = sql.NullString{String: *r.Country, Valid: true}
	}
	if r.Language != nil {
		e.Language = sql.NullString{String: *r.Language, Valid: true}
	}
	if r.FirstResponseAt != nil {
		e.FirstResponseAt = sql.NullTime{Time: *r.FirstResponseAt, Valid: true}
	}
	return e.Normalized()
}

// RecordOf converts a domain event into its wire form.
func RecordOf(e model.RawOutcomeEvent) Record {
	r := Record{
		ID:         e.ID,
		InquiryID:  e.InquiryID,
		HospitalID: e.HospitalID,
		SentAt:     e.SentAt,
		Status:     string(e.Status),
	}
	if e.TreatmentID.Valid {
		v := e.TreatmentID.Int64
		r.TreatmentID = &v
	}
	if e.Country.Valid {
		v := e.Country.String
		r.Country = &v
	}
	if e.Language.Valid {
		v := e.Language.String
		r.Language = &v
	}
	if e.FirstResponseAt.Valid {
		v := e.FirstResponseAt.Time
		r.FirstResponseAt = &v
	}
	return r
}

// WriteJSONL encodes events one per line.
func WriteJSONL(w io.Writer, events []model.RawOutcomeEvent) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(RecordOf(e)); err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
	}
	return nil
}

// JSONL reads events from a JSON-lines file that is re-opened on every scan,
// so appends by the producer are picked up by the next refresh.
type JSONL struct {
	path string
	log  logger.Logger
}

// JSONLOption configures a JSONL source.
type JSONLOption func(*JSONL)

// WithJSONLLogger sets the logger used to report undecodable lines.
func WithJSONLLogger(l logger.Logger) JSONLOption {
	return func(j *JSONL) {
		if l != nil {
			j.log = l
		}
	}
}

// NewJSONL returns a source over the file at path.
func NewJSONL(path string, opts ...JSONLOption) *JSONL {
	j := &JSONL{path: path, log: logger.Nop()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Scan implements Source. Lines that do not decode are skipped and logged.
func (j *JSONL) Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error {
	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	line, bad := 0, 0
	for sc.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			bad++
			j.log.Warn(ctx, "skipping undecodable event line", logger.Int("line", line), logger.Error(err))
			continue
		}
		e := rec.Event()
		if !since.IsZero() && e.SentAt.Before(since) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, j.path, err)
	}
	if bad > 0 {
		j.log.Warn(ctx, "event log scan finished with undecodable lines", logger.Int("bad_lines", bad))
	}
	return ctx.Err()
}
