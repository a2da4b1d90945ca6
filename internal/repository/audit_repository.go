package repository

import (
	"context"
	"database/sql"
	"time"
)

// AuditEntry mirrors one audit_log row.
type AuditEntry struct {
	ID        uint64
	ActorID   uint64
	Action    string
	SubjectID uint64
	CreatedAt time.Time
}

// AuditRepo is the append-only activity log. The engine writes one entry
// per successful state change; reporting reads it. There is deliberately no
// update or delete.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo binds an AuditRepo to the database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Record appends one entry. Callers treat failures as best-effort: the
// engine logs and moves on.
func (r *AuditRepo) Record(ctx context.Context, actorID uint64, action string, subjectID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor_id, action, subject_id) VALUES (?, ?, ?)`,
		actorID, action, subjectID)
	return err
}

// Recent returns the newest entries for the staff activity view.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor_id, action, subject_id, created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.SubjectID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
