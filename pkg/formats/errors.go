package formats

import (
	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/chunk"
)

// Model container errors. Every error returned by this package wraps one of
// these, so callers can classify failures with errors.Is.
var (
	ErrMalformedContainer = chunk.ErrMalformedContainer
	ErrUnsupportedVersion = chunk.ErrUnsupportedVersion
	ErrRange              = errors.New("index out of range")
	ErrSizeMismatch       = errors.New("size mismatch")
)
