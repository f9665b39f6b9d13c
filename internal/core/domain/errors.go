package domain

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("order not found")
	ErrInvalidState = errors.New("invalid state")
	ErrDependency   = errors.New("dependency unavailable")
	ErrConflict     = errors.New("concurrent update")
	ErrForbidden    = errors.New("forbidden")
)
