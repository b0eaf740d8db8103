package xerr

import "errors"

// Stable, short, user-facing messages. Diagnostics go to the logger instead.
var (
	ErrValidation          = errors.New("invalid request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("already exists")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrInternal            = errors.New("internal error")
	ErrUpstream            = errors.New("upstream store error")
)
