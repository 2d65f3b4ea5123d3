package checker

import "errors"

// ErrCatalogUnavailable is returned when the catalog listing cannot be fetched.
var ErrCatalogUnavailable = errors.New("checker: catalog unavailable")

// ErrNoSnapshot is returned when no snapshot or run has been recorded yet.
var ErrNoSnapshot = errors.New("checker: no snapshot recorded")

// ErrRunInProgress is returned when a cycle is requested while one runs.
var ErrRunInProgress = errors.New("checker: run in progress")

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("checker: invalid input")

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("checker: not found")
