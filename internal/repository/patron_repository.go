package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/utils"
)

// ErrEmailExists is returned when registration collides with an existing
// account.
var ErrEmailExists = errors.New("email already exists")

// PatronRepo stores member accounts. It doubles as the engine's
// PatronDirectory: existence checks for reconciliation, lookups for
// notification addressing.
type PatronRepo struct {
	db *sql.DB
}

// NewPatronRepo binds a PatronRepo to the database.
func NewPatronRepo(db *sql.DB) *PatronRepo { return &PatronRepo{db: db} }

// Create registers a patron with a bcrypt-hashed password and returns the
// new id. MySQL duplicate-key errors (1062) map to ErrEmailExists.
func (r *PatronRepo) Create(ctx context.Context, email, fullName, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO patrons (email, full_name, password_hash, role) VALUES (?, ?, ?, ?)`,
		email, fullName, hash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ByEmail fetches a patron by normalized email.
func (r *PatronRepo) ByEmail(ctx context.Context, email string) (*model.Patron, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, role, created_at
		 FROM patrons WHERE email = ? LIMIT 1`, email)
	return scanPatron(row, email)
}

// ByID fetches a patron by id or returns circulation.ErrNotFound.
func (r *PatronRepo) ByID(ctx context.Context, id uint64) (*model.Patron, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, role, created_at
		 FROM patrons WHERE id = ? LIMIT 1`, id)
	return scanPatron(row, fmt.Sprint(id))
}

// Exists reports whether the patron account is still present. Used as the
// trigger condition for the deleted-patron reconciliation sweep.
func (r *PatronRepo) Exists(ctx context.Context, id uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patrons WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

func scanPatron(row *sql.Row, key string) (*model.Patron, error) {
	var p model.Patron
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.PasswordHash, &p.Role, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patron %s: %w", key, circulation.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
