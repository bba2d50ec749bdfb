package codefacts

import "errors"

var (
	// ErrInvalidRoot is returned when the scan root is empty or does not exist.
	ErrInvalidRoot = errors.New("codefacts: invalid scan root")
	// ErrNoStorePath is returned when no store path is configured.
	ErrNoStorePath = errors.New("codefacts: no store path")
)
