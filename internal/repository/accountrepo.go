// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository provides access to staff and customer accounts.
type AccountRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, a *model.Account) error
	// FindActiveByUsername loads an active account by exact username match.
	FindActiveByUsername(ctx context.Context, username string) (*model.Account, error)
	// UpdatePasswordHash replaces the hash of an active account in a single statement.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// ListByRole returns accounts with the given role ordered by username.
	ListByRole(ctx context.Context, role model.Role) ([]model.Account, error)
}
