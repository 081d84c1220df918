package aggregate

import (
	"errors"
	"fmt"

	"github.com/okian/medrank/internal/domain/model"
)

// ErrPartialAggregation marks a segment that could not be aggregated.
var ErrPartialAggregation = errors.New("partial aggregation failure")

// SegmentError names the failed segment and the cause.
type SegmentError struct {
	Key model.SegmentKey
	Err error
}

func (e SegmentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPartialAggregation, e.Key, e.Err)
}

func (e SegmentError) Unwrap() []error { return []error{ErrPartialAggregation, e.Err} }
