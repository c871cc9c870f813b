package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/cafe-backoffice/internal/crypto"
	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/repository"
)

type fakeAccounts struct {
	mu     sync.Mutex
	byName map[string]*model.Account

	findErr   error
	updateErr error

	finds   int
	updates int
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byName == nil {
		f.byName = map[string]*model.Account{}
	}
	if _, exists := f.byName[a.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	f.byName[a.Username] = &cpy
	return nil
}

func (f *fakeAccounts) FindActiveByUsername(_ context.Context, username string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.findErr != nil {
		return nil, f.findErr
	}
	a, ok := f.byName[username]
	if !ok || a.Status != model.StatusActive {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, a := range f.byName {
		if a.ID == id && a.Status == model.StatusActive {
			a.PasswordHash = hash
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeAccounts) ListByRole(_ context.Context, role model.Role) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Account
	for _, a := range f.byName {
		if a.Role == role {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeAccounts) hashOf(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byName[username].PasswordHash
}

// seed adds an active account with an argon2id hash of password.
func seed(t *testing.T, f *fakeAccounts, username, password string, role model.Role) *model.Account {
	t.Helper()
	h, err := pkgcrypto.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	a := &model.Account{
		ID:           uuid.Must(uuid.NewV4()),
		Username:     username,
		PasswordHash: h,
		Role:         role,
		Status:       model.StatusActive,
	}
	if err := f.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

type sentCode struct{ to, code, purpose string }

type fakeMailer struct {
	err  error
	sent []sentCode
}

func (m *fakeMailer) SendCode(_ context.Context, to, code, purpose string) error {
	m.sent = append(m.sent, sentCode{to, code, purpose})
	return m.err
}

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	if len(m.sent) == 0 {
		t.Fatalf("no code was sent")
	}
	return m.sent[len(m.sent)-1].code
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func mustID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}
