package schema

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the normalizer, the engines and the forecaster.
// Callers match with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnknownEngine        = fmt.Errorf("%w: unknown engine", ErrInvalidConfiguration)
	ErrColumnNotFound       = errors.New("column not found")
	ErrDuplicateTimestamp   = errors.New("duplicate timestamp")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrInvalidValue         = errors.New("invalid value")
)
