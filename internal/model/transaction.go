package model

import "time"

// Transaction kinds. A BORROW commits a physical copy to a patron for the
// loan period; a RESERVE asks staff to set a copy aside within the approval
// window.
const (
	KindBorrow  = "BORROW"
	KindReserve = "RESERVE"
)

// Transaction statuses. pending and active are the live statuses; the
// remaining four are terminal. The legal transitions are
//
//	pending -> active | rejected | cancelled | expired
//	active  -> completed | cancelled
//
// where cancelled-from-active is a forced return (deleted-patron cleanup).
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// Transaction is one borrow or reservation request together with its full
// lifecycle. Rows are never deleted; they are the audit trail of who had
// what and why. TitleName is denormalized for display so listings survive a
// later archive of the title.
type Transaction struct {
	ID              uint64     // transactions.id
	TitleID         uint64     // transactions.title_id
	PatronID        uint64     // transactions.patron_id
	Kind            string     // transactions.kind (BORROW, RESERVE)
	Status          string     // transactions.status
	TitleName       string     // transactions.title_name
	RequestedAt     time.Time  // transactions.requested_at
	ActiveFrom      *time.Time // transactions.active_from (nullable)
	DueAt           *time.Time // transactions.due_at (nullable)
	ReturnedAt      *time.Time // transactions.returned_at (nullable)
	DecidedBy       *uint64    // transactions.decided_by (nullable, staff id)
	DecisionAt      *time.Time // transactions.decision_at (nullable)
	RejectionReason *string    // transactions.rejection_reason (nullable)
	ReminderSent    bool       // transactions.reminder_sent
	CreatedAt       time.Time  // transactions.created_at
	UpdatedAt       time.Time  // transactions.updated_at
}

// Live reports whether the transaction still occupies its (title, patron,
// kind) slot, i.e. whether it is in a non-terminal status.
func (t *Transaction) Live() bool {
	return t.Status == StatusPending || t.Status == StatusActive
}
