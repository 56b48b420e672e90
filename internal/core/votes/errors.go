package votes

import (
	"errors"
	"fmt"
)

// ErrorKind classifies vote failures so callers can switch on them
type ErrorKind string

const (
	KindSelfVote      ErrorKind = "SELF_VOTE"
	KindDuplicateVote ErrorKind = "DUPLICATE_VOTE"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindForbidden     ErrorKind = "FORBIDDEN"
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized  ErrorKind = "UNAUTHORIZED"
	KindRateLimited   ErrorKind = "RATE_LIMITED"
	KindRemote        ErrorKind = "REMOTE_ERROR"
)

// Error is the typed failure returned by every VoteModel and Coordinator operation.
// Two *Error values match under errors.Is when their kinds are equal, so the package
// sentinels below can be used with errors.Is regardless of the message.
type Error struct {
	Err     error
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrSelfVote indicates the user tried to vote on their own definition
	ErrSelfVote = &Error{Kind: KindSelfVote, Message: "cannot vote on your own definition"}

	// ErrDuplicateVote indicates an identical vote already exists
	ErrDuplicateVote = &Error{Kind: KindDuplicateVote, Message: "vote already exists"}

	// ErrNotFound indicates the vote or target is unknown
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrForbidden indicates an attempt to change another user's vote
	ErrForbidden = &Error{Kind: KindForbidden, Message: "cannot modify another user's vote"}

	// ErrValidation indicates malformed input
	ErrValidation = &Error{Kind: KindValidation, Message: "validation error"}

	// ErrUnauthorized indicates there is no authenticated user
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "authentication required"}

	// ErrRateLimited indicates the user reached their vote limit for the window
	ErrRateLimited = &Error{Kind: KindRateLimited, Message: "vote limit reached"}

	// ErrRemote indicates the persistence layer failed; local state was rolled back
	ErrRemote = &Error{Kind: KindRemote, Message: "remote persistence failed"}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError creates a validation error for a single input field
func NewValidationError(field, message string) error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf("validation error for field '%s': %s", field, message),
	}
}

func remoteError(op string, err error) error {
	return &Error{Kind: KindRemote, Message: "failed to " + op, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" if err is not a vote error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a self-vote or duplicate-vote rejection
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateVote) || errors.Is(err, ErrSelfVote)
}
