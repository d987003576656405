package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrorKind classifies engine failures so the HTTP layer can map them to
// stable status codes without string matching.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindConflict
	KindInsufficientFunds
	KindInvalidState
	KindValidation
)

// Error carries a kind plus a human-readable message. Messages are surfaced
// verbatim in API responses, so they are part of the external contract.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// ErrInsufficientFunds is returned whenever a debit would drive an account
// balance below zero. The operation rolls back before any mutation persists.
var ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "Insufficient funds"}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func invalidStatef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Under READ COMMITTED two concurrent inserts can both pass an
// in-transaction existence check; the loser surfaces here when the unique
// index rejects its insert, and callers translate that into the same
// conflict the check would have reported.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsKind reports whether err (or anything it wraps) is an engine Error of
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
