package model

import "time"

// Title status values. A title normally sits in AVAILABLE; ARCHIVED rows
// have been copied to the archive table and no longer circulate; DAMAGED
// titles are kept in the catalog but staff withhold approvals for them.
const (
	TitleStatusAvailable = "AVAILABLE"
	TitleStatusArchived  = "ARCHIVED"
	TitleStatusDamaged   = "DAMAGED"
)

// Title is one catalog entry for a physical book. TotalStock is the number
// of copies the library owns and AvailableStock the number currently on the
// shelf. AvailableStock is written exclusively by the circulation engine
// through the catalog store primitives; at rest it always satisfies
// 0 <= AvailableStock <= TotalStock.
//
// BorrowedBy is a denormalized display pointer to the most recent active
// borrower. It is repaired in the same engine operation that invalidates it
// and must never be used for correctness decisions — the transaction ledger
// is the source of truth.
type Title struct {
	ID             uint64     // titles.id
	DisplayName    string     // titles.display_name
	Author         string     // titles.author
	Genre          string     // titles.genre
	Year           int        // titles.year
	TotalStock     int        // titles.total_stock
	AvailableStock int        // titles.available_stock
	Status         string     // titles.status (AVAILABLE, ARCHIVED, DAMAGED)
	BorrowedBy     *uint64    // titles.borrowed_by (nullable)
	BorrowedAt     *time.Time // titles.borrowed_at (nullable)
	CreatedAt      time.Time  // titles.created_at
	UpdatedAt      time.Time  // titles.updated_at
}
