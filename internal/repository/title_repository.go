// Package repository contains the MySQL-backed implementations of the
// circulation ports plus the query helpers the HTTP layer uses for
// listings. Atomicity is achieved with conditional UPDATE statements: a
// statement that affects zero rows lost its race (or the precondition never
// held) and is mapped onto the circulation error taxonomy.
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

// TitleRepo is the catalog store. It is the only component that writes
// titles.available_stock, and it only does so through ReserveCopy and
// ReleaseCopy.
type TitleRepo struct {
	db *sql.DB
}

// NewTitleRepo binds a TitleRepo to the database.
func NewTitleRepo(db *sql.DB) *TitleRepo { return &TitleRepo{db: db} }

const titleColumns = `id, display_name, author, genre, year, total_stock, available_stock,
       status, borrowed_by, borrowed_at, created_at, updated_at`

func scanTitle(row interface{ Scan(...any) error }) (*model.Title, error) {
	var (
		t          model.Title
		borrowedBy sql.NullInt64
		borrowedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.DisplayName, &t.Author, &t.Genre, &t.Year,
		&t.TotalStock, &t.AvailableStock, &t.Status, &borrowedBy, &borrowedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if borrowedBy.Valid {
		v := uint64(borrowedBy.Int64)
		t.BorrowedBy = &v
	}
	if borrowedAt.Valid {
		v := borrowedAt.Time
		t.BorrowedAt = &v
	}
	return &t, nil
}

// TitleByID returns one title or circulation.ErrNotFound.
func (r *TitleRepo) TitleByID(ctx context.Context, id uint64) (*model.Title, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+titleColumns+` FROM titles WHERE id = ?`, id)
	t, err := scanTitle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("title %d: %w", id, circulation.ErrNotFound)
	}
	return t, err
}

// ReserveCopy atomically takes one copy off the shelf. The guard
// available_stock > 0 makes concurrent decrements of the last copy resolve
// to exactly one winner; the loser sees ErrOutOfStock.
func (r *TitleRepo) ReserveCopy(ctx context.Context, titleID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE titles SET available_stock = available_stock - 1
		 WHERE id = ? AND available_stock > 0`, titleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing title from an empty shelf.
		if _, err := r.TitleByID(ctx, titleID); err != nil {
			return err
		}
		return fmt.Errorf("title %d: %w", titleID, circulation.ErrOutOfStock)
	}
	return nil
}

// ReleaseCopy atomically puts one copy back. The guard against total_stock
// means a release that would overflow the shelf fails loudly with
// ErrInvariantViolation instead of clamping: a second release for the same
// loan is a bug, not a condition to paper over.
func (r *TitleRepo) ReleaseCopy(ctx context.Context, titleID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE titles SET available_stock = available_stock + 1
		 WHERE id = ? AND available_stock < total_stock`, titleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.TitleByID(ctx, titleID); err != nil {
			return err
		}
		return fmt.Errorf("release beyond total stock for title %d: %w", titleID, circulation.ErrInvariantViolation)
	}
	return nil
}

// SetBorrower rewrites the denormalized display pointer.
func (r *TitleRepo) SetBorrower(ctx context.Context, titleID uint64, patronID *uint64, at *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE titles SET borrowed_by = ?, borrowed_at = ? WHERE id = ?`,
		nullableID(patronID), nullableTime(at), titleID)
	return err
}

// TitlesWithBorrower lists titles whose borrower pointer is set.
func (r *TitleRepo) TitlesWithBorrower(ctx context.Context) ([]model.Title, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+titleColumns+` FROM titles WHERE borrowed_by IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTitles(rows)
}

// Archive copies the title into archived_titles (append, never delete) and
// flips its status. Both writes share one transaction so a title can never
// be archived without its archive row.
func (r *TitleRepo) Archive(ctx context.Context, titleID, staffID uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO archived_titles
		   (title_id, display_name, author, genre, year, total_stock, archived_by, archived_at)
		 SELECT id, display_name, author, genre, year, total_stock, ?, UTC_TIMESTAMP()
		 FROM titles WHERE id = ? AND status <> ?`,
		staffID, titleID, model.TitleStatusArchived)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("title %d: %w", titleID, circulation.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE titles SET status = ? WHERE id = ?`, model.TitleStatusArchived, titleID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Create inserts a new catalog entry with a full shelf.
func (r *TitleRepo) Create(ctx context.Context, t *model.Title) error {
	if t.Status == "" {
		t.Status = model.TitleStatusAvailable
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO titles (display_name, author, genre, year, total_stock, available_stock, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.DisplayName, t.Author, t.Genre, t.Year, t.TotalStock, t.TotalStock, t.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.AvailableStock = t.TotalStock
	return nil
}

// List returns circulating titles, optionally filtered by genre, newest
// first.
func (r *TitleRepo) List(ctx context.Context, genre string, limit, offset int) ([]model.Title, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + titleColumns + ` FROM titles WHERE status <> ?`
	args := []any{model.TitleStatusArchived}
	if genre != "" {
		query += ` AND genre = ?`
		args = append(args, genre)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTitles(rows)
}

func collectTitles(rows *sql.Rows) ([]model.Title, error) {
	var out []model.Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func nullableID(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
