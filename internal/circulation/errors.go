// Package circulation implements the circulation engine: the only component
// allowed to move transactions through their lifecycle and to mutate a
// title's available stock. It also owns the background sweeper that expires
// stale pending reservations.
package circulation

import "errors"

// ErrNotFound is returned when a title, transaction, return request or
// patron id does not resolve to a row. Handlers translate it to 404.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when an operation is attempted from a
// status that does not permit it, including losing a conditional update race
// to a concurrent caller. Handlers translate it to 409.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrOutOfStock is returned when a copy cannot be committed because the
// title has no available stock. The triggering transaction is left in its
// prior status; approval is never silently downgraded.
var ErrOutOfStock = errors.New("out of stock")

// ErrDuplicateRequest is returned when a patron already has a live
// transaction of the same kind for the title.
var ErrDuplicateRequest = errors.New("duplicate request")

// ErrInvariantViolation indicates the catalog/ledger consistency invariant
// has been broken. It is the only fatal category: callers must log it with
// full context and stop mutating the affected title until it is manually
// reconciled. It is never masked or auto-repaired.
var ErrInvariantViolation = errors.New("invariant violation")
