package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, username, password_hash, role, status)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.Username, a.PasswordHash, string(a.Role), string(a.Status))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// FindActiveByUsername selects an active account by exact username.
func (r *AccountRepo) FindActiveByUsername(ctx context.Context, username string) (*model.Account, error) {
	const q = `
SELECT id, username, password_hash, role, status, created_at
FROM accounts WHERE username=$1 AND status='active'`
	a, err := scanAccount(r.db.Pool.QueryRow(ctx, q, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdatePasswordHash sets a new hash in one statement; inactive or missing accounts are not touched.
func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `
UPDATE accounts
SET password_hash = $2, updated_at = now()
WHERE id = $1 AND status = 'active'`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListByRole selects all accounts with the given role.
func (r *AccountRepo) ListByRole(ctx context.Context, role model.Role) ([]model.Account, error) {
	const q = `
SELECT id, username, password_hash, role, status, created_at
FROM accounts WHERE role=$1 ORDER BY username`
	rows, err := r.db.Pool.Query(ctx, q, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a      model.Account
		role   string
		status string
	)
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &role, &status, &a.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := model.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Role = parsed
	a.Status = model.Status(status)
	return &a, nil
}
