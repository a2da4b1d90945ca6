// Package queue defines the message payloads exchanged over the broker and
// the background consumer that turns them into patron-facing notification
// log lines.
package queue

// Notification kinds carried in NotificationEvent.Kind. One value per
// reservation lifecycle message.
const (
	NotifyReservationPending  = "reservation.pending"
	NotifyReservationApproved = "reservation.approved"
	NotifyReservationRejected = "reservation.rejected"
	NotifyReservationReminder = "reservation.reminder"
	NotifyReservationExpired  = "reservation.expired"
)

// NotificationEvent is published once per reservation lifecycle message. It
// carries everything a downstream sender (mail, push, log) needs without
// querying the primary database. Timestamps are RFC3339 strings.
type NotificationEvent struct {
	Kind        string `json:"kind"`
	PatronID    uint64 `json:"patron_id"`
	PatronEmail string `json:"patron_email"`
	PatronName  string `json:"patron_name"`
	TitleName   string `json:"title_name"`
	DueAt       string `json:"due_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SentAt      string `json:"sent_at"`
}
