// Package notify announces finished refreshes to downstream consumers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// EventSnapshotRefreshed is the type tag of every published message.
const EventSnapshotRefreshed = "snapshot.refreshed"

// SnapshotRefreshed describes one committed period snapshot.
type SnapshotRefreshed struct {
	Type         string       `json:"type"`
	RunID        string       `json:"run_id"`
	Period       model.Period `json:"period"`
	Segments     int          `json:"segments"`
	Failures     int          `json:"failures"`
	Dropped      int          `json:"dropped"`
	PriorVersion int64        `json:"prior_version"`
	BookingRate  float64      `json:"prior_booking_rate"`
	CompletedAt  time.Time    `json:"completed_at"`
}

// Notifier publishes snapshot events. Delivery failure never rolls back a
// snapshot; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, e SnapshotRefreshed) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, SnapshotRefreshed) error { return nil }

// Close implements Notifier.
func (Nop) Close() error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []SnapshotRefreshed
	err    error
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, e SnapshotRefreshed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

// FailWith makes following Notify calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []SnapshotRefreshed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SnapshotRefreshed(nil), r.events...)
}

// Close implements Notifier.
func (r *Recorder) Close() error { return nil }

var (
	_ Notifier = Nop{}
	_ Notifier = (*Recorder)(nil)
)
