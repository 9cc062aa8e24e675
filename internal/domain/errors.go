package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrConfiguration marks misconfiguration that retrying cannot fix.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen is returned when a downstream dependency has failed
	// repeatedly and calls are being shed.
	ErrCircuitOpen = errors.New("circuit open")
)
