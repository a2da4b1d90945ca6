package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// ReturnRequestRepo stores patron return requests awaiting staff review.
type ReturnRequestRepo struct {
	db *sql.DB
}

// NewReturnRequestRepo binds a ReturnRequestRepo to the database.
func NewReturnRequestRepo(db *sql.DB) *ReturnRequestRepo { return &ReturnRequestRepo{db: db} }

const returnColumns = `id, transaction_id, title_id, patron_id, title_name, cond, notes,
       status, decided_by, decision_at, rejection_reason, requested_at`

func scanReturnRequest(row interface{ Scan(...any) error }) (*model.ReturnRequest, error) {
	var (
		r          model.ReturnRequest
		notes      sql.NullString
		decidedBy  sql.NullInt64
		decisionAt sql.NullTime
		reason     sql.NullString
	)
	err := row.Scan(&r.ID, &r.TransactionID, &r.TitleID, &r.PatronID, &r.TitleName,
		&r.Condition, &notes, &r.Status, &decidedBy, &decisionAt, &reason, &r.RequestedAt)
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		v := notes.String
		r.Notes = &v
	}
	if decidedBy.Valid {
		v := uint64(decidedBy.Int64)
		r.DecidedBy = &v
	}
	if decisionAt.Valid {
		v := decisionAt.Time
		r.DecisionAt = &v
	}
	if reason.Valid {
		v := reason.String
		r.RejectionReason = &v
	}
	return &r, nil
}

// Create inserts a pending return request and fills its ID.
func (r *ReturnRequestRepo) Create(ctx context.Context, req *model.ReturnRequest) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO return_requests
		   (transaction_id, title_id, patron_id, title_name, cond, notes, status, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.TransactionID, req.TitleID, req.PatronID, req.TitleName,
		req.Condition, nullableString(req.Notes), req.Status, req.RequestedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	req.ID = uint64(id)
	return nil
}

// ByID returns one return request or circulation.ErrNotFound.
func (r *ReturnRequestRepo) ByID(ctx context.Context, id uint64) (*model.ReturnRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE id = ?`, id)
	req, err := scanReturnRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("return request %d: %w", id, circulation.ErrNotFound)
	}
	return req, err
}

// HasPending reports whether an undecided request exists for the
// transaction.
func (r *ReturnRequestRepo) HasPending(ctx context.Context, transactionID uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM return_requests WHERE transaction_id = ? AND status = ?`,
		transactionID, model.ReturnStatusPending).Scan(&n)
	return n > 0, err
}

// Decide moves a pending request to its decision, conditional on pending.
func (r *ReturnRequestRepo) Decide(ctx context.Context, id uint64, status string, staffID uint64, reason *string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE return_requests
		 SET status = ?, decided_by = ?, decision_at = ?, rejection_reason = ?
		 WHERE id = ? AND status = ?`,
		status, staffID, at.UTC(), nullableString(reason), id, model.ReturnStatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.ByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("return request %d already decided: %w", id, circulation.ErrInvalidTransition)
	}
	return nil
}

// Pending lists undecided requests, newest first (staff queue).
func (r *ReturnRequestRepo) Pending(ctx context.Context) ([]model.ReturnRequest, error) {
	return r.list(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE status = ? ORDER BY requested_at DESC`,
		model.ReturnStatusPending)
}

// ByPatron lists a patron's return requests, newest first.
func (r *ReturnRequestRepo) ByPatron(ctx context.Context, patronID uint64) ([]model.ReturnRequest, error) {
	return r.list(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE patron_id = ? ORDER BY requested_at DESC`,
		patronID)
}

func (r *ReturnRequestRepo) list(ctx context.Context, query string, args ...any) ([]model.ReturnRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ReturnRequest
	for rows.Next() {
		req, err := scanReturnRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}
