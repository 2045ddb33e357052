package services

import (
	"errors"
	"fmt"
)

// Transition outcomes that are expected conditions, not failures. Handlers
// map these kinds onto HTTP statuses; anything not wrapping one of them is
// an internal error.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream gateway failure")
)

// Error carries a human-readable reason alongside its kind so buyers and
// sellers see why a transition was rejected.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func validation(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }
func forbidden(msg string) error  { return &Error{Kind: ErrForbidden, Msg: msg} }
func conflict(msg string) error   { return &Error{Kind: ErrConflict, Msg: msg} }
func notFound(msg string) error   { return &Error{Kind: ErrNotFound, Msg: msg} }

func upstream(msg string, cause error) error {
	return &Error{Kind: ErrUpstream, Msg: msg, Cause: cause}
}
