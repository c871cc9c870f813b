// Package session persists per-client authentication state between requests.
//
// State is keyed by an opaque session token carried in a cookie. Only the
// login guard and the password-reset flow mutate it; the HTTP layer loads it
// before a handler runs and saves it afterwards.
package session

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cafe-backoffice/internal/model"
)

var (
	// ErrCorrupt is returned by Load when stored state cannot be decoded.
	ErrCorrupt = errors.New("corrupt session state")
	// ErrLockTimeout is returned by Lock when another request held the token too long.
	ErrLockTimeout = errors.New("session busy")
)

// Unlock releases a token lock. It is safe to call once.
type Unlock func()

// Store loads and saves session state by token.
type Store interface {
	// Load returns the state for token, or errs.ErrNotFound.
	Load(ctx context.Context, token string) (*model.SessionState, error)
	// Save writes state for token and refreshes its TTL.
	Save(ctx context.Context, token string, st *model.SessionState) error
	// Delete removes state for token. Deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error
	// Lock serializes requests of one client: it blocks until no other holder
	// of token remains, or fails with ErrLockTimeout or ctx's error.
	Lock(ctx context.Context, token string) (Unlock, error)
}

// NewToken returns a fresh random session token.
func NewToken() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidToken reports whether s has the shape of a token produced by NewToken.
func ValidToken(s string) bool {
	id, err := uuid.FromString(s)
	return err == nil && id.Version() == uuid.V4
}
