package circulation

import (
	"context"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// TransitionUpdate carries the optional transaction fields written together
// with a status change. Nil fields are left untouched by the store.
type TransitionUpdate struct {
	DecidedBy       *uint64
	DecisionAt      *time.Time
	ActiveFrom      *time.Time
	DueAt           *time.Time
	ReturnedAt      *time.Time
	RejectionReason *string
}

// Catalog is the engine's view of the title store. ReserveCopy and
// ReleaseCopy are the only mutation primitives for available stock and must
// be atomic: a conditional update (or equivalent) so that concurrent callers
// can never drive available stock negative or past total stock.
type Catalog interface {
	// TitleByID returns the title or ErrNotFound.
	TitleByID(ctx context.Context, id uint64) (*model.Title, error)

	// ReserveCopy decrements available stock by one, failing with
	// ErrOutOfStock when no copy is free and ErrNotFound for unknown ids.
	ReserveCopy(ctx context.Context, titleID uint64) error

	// ReleaseCopy increments available stock by one. A release that would
	// push available stock past total stock fails with
	// ErrInvariantViolation; it is never clamped silently.
	ReleaseCopy(ctx context.Context, titleID uint64) error

	// SetBorrower rewrites the denormalized borrower display pointer. A nil
	// patron id clears it.
	SetBorrower(ctx context.Context, titleID uint64, patronID *uint64, at *time.Time) error

	// TitlesWithBorrower lists titles whose borrower pointer is set, for
	// orphan repair.
	TitlesWithBorrower(ctx context.Context) ([]model.Title, error)

	// Archive copies the title into the archive store and marks it
	// ARCHIVED. The engine verifies stock consistency first.
	Archive(ctx context.Context, titleID, staffID uint64) error
}

// Ledger is the engine's view of the transaction store. Transition must be
// a conditional update keyed on the expected prior status so that exactly
// one of several concurrent callers wins; the losers receive
// ErrInvalidTransition.
type Ledger interface {
	// Create appends a new transaction and fills its ID.
	Create(ctx context.Context, t *model.Transaction) error

	// ByID returns the transaction or ErrNotFound.
	ByID(ctx context.Context, id uint64) (*model.Transaction, error)

	// HasLive reports whether a pending or active transaction of the given
	// kind exists for the (title, patron) pair.
	HasLive(ctx context.Context, titleID, patronID uint64, kind string) (bool, error)

	// Transition moves the transaction from one status to another,
	// applying upd in the same write. It fails with ErrInvalidTransition
	// when the row is not currently in the from status, and ErrNotFound
	// when the id is unknown.
	Transition(ctx context.Context, id uint64, from, to string, upd TransitionUpdate) error

	// MarkReminderSent sets the reminder flag, but only while the
	// transaction is still pending and the flag is unset; otherwise it
	// returns ErrInvalidTransition so sweeps stay idempotent.
	MarkReminderSent(ctx context.Context, id uint64) error

	// ActiveBorrowCount counts active BORROW transactions for a title. At
	// rest this must equal totalStock - availableStock.
	ActiveBorrowCount(ctx context.Context, titleID uint64) (int, error)

	// LiveCount counts pending plus active transactions of any kind for a
	// title (archive gate).
	LiveCount(ctx context.Context, titleID uint64) (int, error)

	// ActiveBorrowsByPatron lists a patron's active loans.
	ActiveBorrowsByPatron(ctx context.Context, patronID uint64) ([]model.Transaction, error)

	// ExpiredPendingReservations lists pending RESERVE transactions
	// requested before the cutoff.
	ExpiredPendingReservations(ctx context.Context, cutoff time.Time) ([]model.Transaction, error)

	// ReservationsDueReminder lists pending RESERVE transactions with the
	// reminder flag unset whose requested_at falls in (oldest, newest],
	// i.e. reservations that expire within the reminder lead but have not
	// expired yet.
	ReservationsDueReminder(ctx context.Context, oldest, newest time.Time) ([]model.Transaction, error)
}

// ReturnRequests stores patron-initiated return requests awaiting staff
// review.
type ReturnRequests interface {
	Create(ctx context.Context, r *model.ReturnRequest) error
	ByID(ctx context.Context, id uint64) (*model.ReturnRequest, error)

	// HasPending reports whether an undecided request already exists for
	// the transaction.
	HasPending(ctx context.Context, transactionID uint64) (bool, error)

	// Decide moves a pending request to approved or rejected. Conditional
	// on the pending status; losers get ErrInvalidTransition.
	Decide(ctx context.Context, id uint64, status string, staffID uint64, reason *string, at time.Time) error
}

// Notifier is the outbound notification port. All sends are fire-and-forget
// from the engine's point of view: errors are logged at the boundary and
// never surfaced to the caller of the triggering operation.
type Notifier interface {
	ReservationPending(ctx context.Context, patron *model.Patron, titleName string) error
	ReservationApproved(ctx context.Context, patron *model.Patron, titleName string, dueAt time.Time) error
	ReservationRejected(ctx context.Context, patron *model.Patron, titleName string, reason string) error
	ReservationReminder(ctx context.Context, patron *model.Patron, titleName string, expiresAt time.Time) error
	ReservationExpired(ctx context.Context, patron *model.Patron, titleName string) error
}

// Auditor is the append-only activity log port. Recording happens once per
// successful state change, after the core write; failures are logged but do
// not roll the transition back.
type Auditor interface {
	Record(ctx context.Context, actorID uint64, action string, subjectID uint64) error
}

// PatronDirectory is the narrow slice of the user-management subsystem the
// engine needs: existence checks for reconciliation and lookups for
// notification addressing.
type PatronDirectory interface {
	ByID(ctx context.Context, id uint64) (*model.Patron, error)
	Exists(ctx context.Context, id uint64) (bool, error)
}
