package model

import "time"

// Patron roles. STAFF unlocks the approval and reconciliation endpoints;
// PATRON may only act on their own transactions.
const (
	RolePatron = "PATRON"
	RoleStaff  = "STAFF"
)

// Patron is a library member account. PasswordHash holds the bcrypt hash of
// the login password and is never serialized to clients.
type Patron struct {
	ID           uint64    // patrons.id
	Email        string    // patrons.email (unique)
	FullName     string    // patrons.full_name
	PasswordHash string    // patrons.password_hash
	Role         string    // patrons.role (PATRON, STAFF)
	CreatedAt    time.Time // patrons.created_at
}
