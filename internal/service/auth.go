// Package service contains the login guard and the password recovery flow.
//
// Every operation receives the caller's *model.SessionState explicitly and
// mutates it in place; persisting it between requests is the transport's job.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/cafe-backoffice/internal/crypto"
	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/limiter"
	"github.com/and161185/cafe-backoffice/internal/metrics"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/repository"
)

// LoginStatus is the outcome of AttemptLogin.
type LoginStatus int

const (
	LoginAdmitted LoginStatus = iota
	LoginCooldownActive
	LoginInvalidCredentials
	LoginLockoutEngaged
)

func (s LoginStatus) String() string {
	switch s {
	case LoginAdmitted:
		return "admitted"
	case LoginCooldownActive:
		return "cooldown_active"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	case LoginLockoutEngaged:
		return "lockout_engaged"
	}
	return "unknown"
}

// LoginResult describes an admitted or rejected login attempt.
type LoginResult struct {
	Status LoginStatus

	// Account and Tokens are set for LoginAdmitted.
	Account *model.Account
	Tokens  model.Tokens

	// AttemptsRemaining is set for LoginInvalidCredentials.
	AttemptsRemaining int
	// RetryAfter is the remaining cooldown (LoginCooldownActive) or the
	// duration of the lockout that just engaged (LoginLockoutEngaged), in seconds.
	RetryAfter int
}

// LockoutJustEngaged reports whether this very attempt started a cooldown.
func (r LoginResult) LockoutJustEngaged() bool { return r.Status == LoginLockoutEngaged }

// AuthService guards logins.
type AuthService interface {
	// AttemptLogin applies the session throttle and authenticates the user.
	AttemptLogin(ctx context.Context, sess *model.SessionState, username, password string) (LoginResult, error)
}

// dummyHash is verified against when the username is unknown.
var dummyHash = sync.OnceValue(func() string {
	h, _ := pkgcrypto.HashPassword("unknown-account")
	return h
})

type AuthServiceImpl struct {
	accounts repository.AccountRepository
	tokens   *TokenIssuer
	log      *zap.Logger
	now      func() time.Time
	verify   func(password, encoded string) (bool, error)
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(accounts repository.AccountRepository, tokens *TokenIssuer, log *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		accounts: accounts,
		tokens:   tokens,
		log:      log,
		now:      time.Now,
		verify:   pkgcrypto.VerifyPassword,
	}
}

// AttemptLogin authenticates username/password against the session's throttle.
//
// While a cooldown is active no account lookup happens. Otherwise exactly one
// lookup is made; an unknown username and a wrong password count alike.
// A non-nil error means a dependency failed and the throttle was left untouched.
func (s *AuthServiceImpl) AttemptLogin(ctx context.Context, sess *model.SessionState, username, password string) (LoginResult, error) {
	now := s.now()

	if d := limiter.Check(sess.Throttle, now); d.Verdict == limiter.CooldownActive {
		metrics.RecordLogin(LoginCooldownActive.String())
		return LoginResult{Status: LoginCooldownActive, RetryAfter: d.RetryAfterSeconds()}, nil
	}

	acc, err := s.accounts.FindActiveByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return LoginResult{}, fmt.Errorf("%w: find account: %v", errs.ErrDependencyFailure, err)
	}

	// unknown usernames pay for a hash check too, so timing does not reveal them
	hash := dummyHash()
	if acc != nil {
		hash = acc.PasswordHash
	}
	ok, err := s.verify(password, hash)
	switch {
	case acc == nil:
		ok = false
	case err != nil:
		// unreadable stored hash counts as a failed attempt
		s.log.Warn("stored password hash unreadable", zap.String("account_id", acc.ID.String()), zap.Error(err))
		ok = false
	}

	if !ok {
		next, d := limiter.Step(sess.Throttle, limiter.Failure, now)
		sess.Throttle = next
		res := LoginResult{Status: LoginInvalidCredentials, AttemptsRemaining: d.AttemptsRemaining}
		if d.Verdict == limiter.LockoutEngaged {
			res = LoginResult{Status: LoginLockoutEngaged, RetryAfter: d.RetryAfterSeconds()}
		}
		metrics.RecordLogin(res.Status.String())
		return res, nil
	}

	p := model.Principal{AccountID: acc.ID, Username: acc.Username, Role: acc.Role}
	tokens, err := s.tokens.Issue(p)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: issue token: %v", errs.ErrDependencyFailure, err)
	}

	sess.Throttle, _ = limiter.Step(sess.Throttle, limiter.Success, now)
	sess.Principal = &p
	sess.Recovery = nil

	if pkgcrypto.NeedsUpgrade(acc.PasswordHash) {
		s.upgradeHash(ctx, acc, password)
	}

	metrics.RecordLogin(LoginAdmitted.String())
	return LoginResult{Status: LoginAdmitted, Account: acc, Tokens: tokens}, nil
}

// upgradeHash re-hashes a legacy password with argon2id. Failures are only logged.
func (s *AuthServiceImpl) upgradeHash(ctx context.Context, acc *model.Account, password string) {
	hash, err := pkgcrypto.HashPassword(password)
	if err == nil {
		err = s.accounts.UpdatePasswordHash(ctx, acc.ID, hash)
	}
	if err != nil {
		s.log.Warn("password hash upgrade failed", zap.String("account_id", acc.ID.String()), zap.Error(err))
		return
	}
	acc.PasswordHash = hash
	s.log.Info("password hash upgraded to argon2id", zap.String("account_id", acc.ID.String()))
}

// Logout drops the principal and any pending recovery from the session.
func Logout(sess *model.SessionState) {
	sess.Principal = nil
	sess.Recovery = nil
}
