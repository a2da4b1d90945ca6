package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// TransactionRepo is the ledger. Rows are appended on request and mutated
// only through the conditional Transition/MarkReminderSent statements;
// nothing here ever deletes a row — the table is the audit trail.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo binds a TransactionRepo to the database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const txColumns = `id, title_id, patron_id, kind, status, title_name, requested_at,
       active_from, due_at, returned_at, decided_by, decision_at, rejection_reason,
       reminder_sent, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var (
		t          model.Transaction
		activeFrom sql.NullTime
		dueAt      sql.NullTime
		returnedAt sql.NullTime
		decidedBy  sql.NullInt64
		decisionAt sql.NullTime
		reason     sql.NullString
	)
	err := row.Scan(&t.ID, &t.TitleID, &t.PatronID, &t.Kind, &t.Status, &t.TitleName,
		&t.RequestedAt, &activeFrom, &dueAt, &returnedAt, &decidedBy, &decisionAt,
		&reason, &t.ReminderSent, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if activeFrom.Valid {
		v := activeFrom.Time
		t.ActiveFrom = &v
	}
	if dueAt.Valid {
		v := dueAt.Time
		t.DueAt = &v
	}
	if returnedAt.Valid {
		v := returnedAt.Time
		t.ReturnedAt = &v
	}
	if decidedBy.Valid {
		v := uint64(decidedBy.Int64)
		t.DecidedBy = &v
	}
	if decisionAt.Valid {
		v := decisionAt.Time
		t.DecisionAt = &v
	}
	if reason.Valid {
		v := reason.String
		t.RejectionReason = &v
	}
	return &t, nil
}

// Create appends a transaction and fills its ID.
func (r *TransactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		   (title_id, patron_id, kind, status, title_name, requested_at, active_from, due_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TitleID, t.PatronID, t.Kind, t.Status, t.TitleName,
		t.RequestedAt.UTC(), nullableTime(t.ActiveFrom), nullableTime(t.DueAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// ByID returns one transaction or circulation.ErrNotFound.
func (r *TransactionRepo) ByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, circulation.ErrNotFound)
	}
	return t, err
}

// HasLive reports whether the (title, patron, kind) slot is occupied by a
// pending or active transaction.
func (r *TransactionRepo) HasLive(ctx context.Context, titleID, patronID uint64, kind string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE title_id = ? AND patron_id = ? AND kind = ? AND status IN (?, ?)`,
		titleID, patronID, kind, model.StatusPending, model.StatusActive).Scan(&n)
	return n > 0, err
}

// Transition performs the conditional status change. The WHERE status = ?
// guard is the whole concurrency story: of any number of racing callers
// exactly one update affects a row, everyone else gets
// ErrInvalidTransition.
func (r *TransactionRepo) Transition(ctx context.Context, id uint64, from, to string, upd circulation.TransitionUpdate) error {
	set := []string{"status = ?"}
	args := []any{to}
	if upd.DecidedBy != nil {
		set = append(set, "decided_by = ?")
		args = append(args, *upd.DecidedBy)
	}
	if upd.DecisionAt != nil {
		set = append(set, "decision_at = ?")
		args = append(args, upd.DecisionAt.UTC())
	}
	if upd.ActiveFrom != nil {
		set = append(set, "active_from = ?")
		args = append(args, upd.ActiveFrom.UTC())
	}
	if upd.DueAt != nil {
		set = append(set, "due_at = ?")
		args = append(args, upd.DueAt.UTC())
	}
	if upd.ReturnedAt != nil {
		set = append(set, "returned_at = ?")
		args = append(args, upd.ReturnedAt.UTC())
	}
	if upd.RejectionReason != nil {
		set = append(set, "rejection_reason = ?")
		args = append(args, *upd.RejectionReason)
	}
	args = append(args, id, from)
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`,
		args...)
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
		return fmt.Errorf("transaction %d is not %s: %w", id, from, circulation.ErrInvalidTransition)
	}
	return nil
}

// MarkReminderSent flips the reminder flag while the reservation is still
// pending and unflagged, keeping repeated sweeps idempotent.
func (r *TransactionRepo) MarkReminderSent(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET reminder_sent = 1
		 WHERE id = ? AND status = ? AND reminder_sent = 0`,
		id, model.StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder for transaction %d already handled: %w", id, circulation.ErrInvalidTransition)
	}
	return nil
}

// ActiveBorrowCount counts active loans for a title.
func (r *TransactionRepo) ActiveBorrowCount(ctx context.Context, titleID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE title_id = ? AND kind = ? AND status = ?`,
		titleID, model.KindBorrow, model.StatusActive).Scan(&n)
	return n, err
}

// LiveCount counts pending plus active transactions of any kind for a
// title.
func (r *TransactionRepo) LiveCount(ctx context.Context, titleID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE title_id = ? AND status IN (?, ?)`,
		titleID, model.StatusPending, model.StatusActive).Scan(&n)
	return n, err
}

// ActiveBorrowsByPatron lists a patron's active loans.
func (r *TransactionRepo) ActiveBorrowsByPatron(ctx context.Context, patronID uint64) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE patron_id = ? AND kind = ? AND status = ?`,
		patronID, model.KindBorrow, model.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ExpiredPendingReservations lists pending reservations requested before
// the cutoff. Absolute timestamps, so late sweeps still find everything.
func (r *TransactionRepo) ExpiredPendingReservations(ctx context.Context, cutoff time.Time) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE kind = ? AND status = ? AND requested_at < ?`,
		model.KindReserve, model.StatusPending, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ReservationsDueReminder lists unflagged pending reservations whose
// requested_at falls in (oldest, newest].
func (r *TransactionRepo) ReservationsDueReminder(ctx context.Context, oldest, newest time.Time) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE kind = ? AND status = ? AND reminder_sent = 0
		   AND requested_at > ? AND requested_at <= ?`,
		model.KindReserve, model.StatusPending, oldest.UTC(), newest.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ByPatron lists a patron's transaction history, newest first.
func (r *TransactionRepo) ByPatron(ctx context.Context, patronID uint64) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE patron_id = ? ORDER BY created_at DESC`, patronID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// PendingByKind lists the staff approval queue for one kind, or for both
// when kind is empty. Newest first, matching the original admin tables.
func (r *TransactionRepo) PendingByKind(ctx context.Context, kind string) ([]model.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE status = ?`
	args := []any{model.StatusPending}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ActiveLoans lists every active loan, newest first (staff dashboard).
func (r *TransactionRepo) ActiveLoans(ctx context.Context) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE kind = ? AND status = ? ORDER BY created_at DESC`,
		model.KindBorrow, model.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
