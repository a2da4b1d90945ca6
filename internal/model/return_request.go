package model

import "time"

// Return request statuses. Approval completes the underlying loan; a
// rejected request leaves the loan active so the patron can try again.
const (
	ReturnStatusPending  = "pending"
	ReturnStatusApproved = "approved"
	ReturnStatusRejected = "rejected"
)

// ReturnRequest is a patron's ask to hand an active loan back. Staff review
// the reported condition before the copy re-enters the available stock.
type ReturnRequest struct {
	ID              uint64     // return_requests.id
	TransactionID   uint64     // return_requests.transaction_id
	TitleID         uint64     // return_requests.title_id
	PatronID        uint64     // return_requests.patron_id
	TitleName       string     // return_requests.title_name
	Condition       string     // return_requests.cond ("good", "worn", "damaged")
	Notes           *string    // return_requests.notes (nullable)
	Status          string     // return_requests.status
	DecidedBy       *uint64    // return_requests.decided_by (nullable)
	DecisionAt      *time.Time // return_requests.decision_at (nullable)
	RejectionReason *string    // return_requests.rejection_reason (nullable)
	RequestedAt     time.Time  // return_requests.requested_at
}
