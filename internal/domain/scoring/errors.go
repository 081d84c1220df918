package scoring

import "errors"

// ErrInvalidInput reports a scoring precondition violation.
var ErrInvalidInput = errors.New("invalid scoring input")
