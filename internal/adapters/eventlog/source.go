// Package eventlog reads raw outcome events from the referral log. It never
// writes to the log.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// Source streams events sent at or after since, in id order. fn returning an
// error stops the scan and that error is returned.
type Source interface {
	Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error
}

// ErrSourceUnavailable wraps failures to open or read the underlying log.
var ErrSourceUnavailable = errors.New("event source unavailable")
