package models

import "errors"

// Error kinds surfaced by the pipeline service. Callers distinguish them
// with errors.Is; the API layer maps them to HTTP status codes.
var (
	ErrInvalidConfiguration = errors.New("invalid job configuration")
	ErrDuplicateJob         = errors.New("job id already exists")
	ErrJobNotFound          = errors.New("job not found")
	ErrInvalidTransition    = errors.New("invalid job transition")
	ErrTimeout              = errors.New("job timed out")
	ErrRemoteAdapter        = errors.New("remote pipeline backend error")
)
