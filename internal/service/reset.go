package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/cafe-backoffice/internal/crypto"
	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/mailer"
	"github.com/and161185/cafe-backoffice/internal/metrics"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/otp"
	"github.com/and161185/cafe-backoffice/internal/policy"
	"github.com/and161185/cafe-backoffice/internal/repository"
)

// RequestStatus is the outcome of RequestReset.
type RequestStatus int

const (
	RequestIssued RequestStatus = iota
	RequestNotFound
	RequestInvalidInput
	RequestDispatchFailed
)

// RequestResult is returned by RequestReset. Reason carries the dispatcher
// diagnostic for RequestDispatchFailed and must only reach operators.
type RequestResult struct {
	Status RequestStatus
	Reason string
}

// VerifyStatus is the outcome of VerifyOTP.
type VerifyStatus int

const (
	VerifyVerified VerifyStatus = iota
	VerifyExpired
	VerifyMismatch
	VerifyNoSession
	// VerifyTooManyAttempts means the pending code was burned; a resend is required.
	VerifyTooManyAttempts
)

// VerifyResult is returned by VerifyOTP.
type VerifyResult struct {
	Status VerifyStatus
	// AttemptsRemaining before the code is burned (VerifyMismatch, limiter enabled).
	AttemptsRemaining int
}

// ResendStatus is the outcome of ResendOTP.
type ResendStatus int

const (
	ResendSent ResendStatus = iota
	ResendNoSession
	ResendDispatchFailed
)

// ResendResult is returned by ResendOTP.
type ResendResult struct {
	Status ResendStatus
	Reason string
}

// CommitStatus is the outcome of CommitNewPassword.
type CommitStatus int

const (
	CommitSuccess CommitStatus = iota
	CommitPolicyViolation
	CommitMismatch
	CommitSameAsOld
	CommitPersistFailed
)

// CommitResult is returned by CommitNewPassword.
type CommitResult struct {
	Status CommitStatus
	// Reasons lists unmet password criteria (CommitPolicyViolation).
	Reasons []string
	// Reason is the operator diagnostic for CommitPersistFailed.
	Reason string
}

// ResetConfig tunes the recovery flow.
type ResetConfig struct {
	// MaxMismatches burns the code after that many wrong guesses; zero disables the limit.
	MaxMismatches int
	// MaskNotFound answers unknown usernames like RequestIssued without sending anything.
	MaskNotFound bool
}

// ResetService drives request → verify → commit.
type ResetService interface {
	RequestReset(ctx context.Context, sess *model.SessionState, username string) (RequestResult, error)
	VerifyOTP(ctx context.Context, sess *model.SessionState, candidate string) (VerifyResult, error)
	ResendOTP(ctx context.Context, sess *model.SessionState) (ResendResult, error)
	CommitNewPassword(ctx context.Context, sess *model.SessionState, newPassword, confirmPassword string) (CommitResult, error)
}

type ResetServiceImpl struct {
	accounts repository.AccountRepository
	mail     mailer.Dispatcher
	cfg      ResetConfig
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

// NewResetService constructs ResetService with required dependencies.
func NewResetService(accounts repository.AccountRepository, mail mailer.Dispatcher, cfg ResetConfig, log *zap.Logger) *ResetServiceImpl {
	return &ResetServiceImpl{
		accounts: accounts,
		mail:     mail,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      time.Now,
	}
}

// RequestReset opens a fresh RecoverySession for an active account and sends its code.
// A failed dispatch keeps the RecoverySession so that a resend can reuse it.
func (s *ResetServiceImpl) RequestReset(ctx context.Context, sess *model.SessionState, username string) (RequestResult, error) {
	if err := s.validate.Var(username, "required,email,max=254"); err != nil {
		metrics.RecordRecovery("request", "invalid_input")
		return RequestResult{Status: RequestInvalidInput}, nil
	}

	acc, err := s.accounts.FindActiveByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		metrics.RecordRecovery("request", "not_found")
		if s.cfg.MaskNotFound {
			sess.Recovery = nil
			return RequestResult{Status: RequestIssued}, nil
		}
		return RequestResult{Status: RequestNotFound}, nil
	}
	if err != nil {
		return RequestResult{}, fmt.Errorf("%w: find account: %v", errs.ErrDependencyFailure, err)
	}

	code, exp, err := otp.Generate(s.now(), otp.TTL)
	if err != nil {
		return RequestResult{}, fmt.Errorf("%w: generate code: %v", errs.ErrDependencyFailure, err)
	}
	sess.Recovery = &model.RecoverySession{
		AccountID:    acc.ID,
		Username:     acc.Username,
		OTPCode:      code,
		OTPExpiresAt: exp,
	}

	if err := s.mail.SendCode(ctx, acc.Username, otp.Format(code), mailer.PurposeReset); err != nil {
		metrics.RecordRecovery("request", "dispatch_failed")
		return RequestResult{Status: RequestDispatchFailed, Reason: err.Error()}, nil
	}
	metrics.RecordRecovery("request", "issued")
	return RequestResult{Status: RequestIssued}, nil
}

// VerifyOTP checks candidate against the pending code. An expired code ends the RecoverySession.
func (s *ResetServiceImpl) VerifyOTP(_ context.Context, sess *model.SessionState, candidate string) (VerifyResult, error) {
	rs := sess.Recovery
	if rs == nil {
		metrics.RecordRecovery("verify", "no_session")
		return VerifyResult{Status: VerifyNoSession}, nil
	}
	if s.now().After(rs.OTPExpiresAt) {
		sess.Recovery = nil
		metrics.RecordRecovery("verify", "expired")
		return VerifyResult{Status: VerifyExpired}, nil
	}
	if s.burned(rs) {
		metrics.RecordRecovery("verify", "too_many_attempts")
		return VerifyResult{Status: VerifyTooManyAttempts}, nil
	}

	code, ok := otp.Parse(candidate)
	if !ok || !otp.Equal(code, rs.OTPCode) {
		rs.Mismatches++
		if s.burned(rs) {
			rs.OTPCode = 0
			metrics.RecordRecovery("verify", "too_many_attempts")
			return VerifyResult{Status: VerifyTooManyAttempts}, nil
		}
		res := VerifyResult{Status: VerifyMismatch}
		if s.cfg.MaxMismatches > 0 {
			res.AttemptsRemaining = s.cfg.MaxMismatches - rs.Mismatches
		}
		metrics.RecordRecovery("verify", "mismatch")
		return res, nil
	}

	rs.OTPVerified = true
	rs.Mismatches = 0
	metrics.RecordRecovery("verify", "verified")
	return VerifyResult{Status: VerifyVerified}, nil
}

func (s *ResetServiceImpl) burned(rs *model.RecoverySession) bool {
	return s.cfg.MaxMismatches > 0 && rs.Mismatches >= s.cfg.MaxMismatches
}

// ResendOTP replaces the pending code and expiry and sends the new code.
// OTPVerified is left as it is.
func (s *ResetServiceImpl) ResendOTP(ctx context.Context, sess *model.SessionState) (ResendResult, error) {
	rs := sess.Recovery
	if rs == nil {
		metrics.RecordRecovery("resend", "no_session")
		return ResendResult{Status: ResendNoSession}, nil
	}

	code, exp, err := otp.Generate(s.now(), otp.TTL)
	if err != nil {
		return ResendResult{}, fmt.Errorf("%w: generate code: %v", errs.ErrDependencyFailure, err)
	}
	rs.OTPCode = code
	rs.OTPExpiresAt = exp
	rs.Mismatches = 0

	if err := s.mail.SendCode(ctx, rs.Username, otp.Format(code), mailer.PurposeReset); err != nil {
		metrics.RecordRecovery("resend", "dispatch_failed")
		return ResendResult{Status: ResendDispatchFailed, Reason: err.Error()}, nil
	}
	metrics.RecordRecovery("resend", "sent")
	return ResendResult{Status: ResendSent}, nil
}

// CommitNewPassword stores a new password for the verified account and ends the RecoverySession.
// Without a verified RecoverySession it fails with errs.ErrStateInconsistency.
func (s *ResetServiceImpl) CommitNewPassword(ctx context.Context, sess *model.SessionState, newPassword, confirmPassword string) (CommitResult, error) {
	rs := sess.Recovery
	if rs == nil || !rs.OTPVerified {
		return CommitResult{}, errs.ErrStateInconsistency
	}

	if reasons := policy.Check(newPassword); len(reasons) > 0 {
		metrics.RecordRecovery("commit", "policy_violation")
		return CommitResult{Status: CommitPolicyViolation, Reasons: reasons}, nil
	}
	if newPassword != confirmPassword {
		metrics.RecordRecovery("commit", "mismatch")
		return CommitResult{Status: CommitMismatch}, nil
	}

	acc, err := s.accounts.FindActiveByUsername(ctx, rs.Username)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && acc.ID != rs.AccountID) {
		// account deactivated or replaced since the code was issued
		sess.Recovery = nil
		return CommitResult{}, errs.ErrStateInconsistency
	}
	if err != nil {
		metrics.RecordRecovery("commit", "persist_failed")
		return CommitResult{Status: CommitPersistFailed, Reason: err.Error()}, nil
	}

	same, err := pkgcrypto.VerifyPassword(newPassword, acc.PasswordHash)
	if err != nil {
		s.log.Warn("stored password hash unreadable", zap.String("account_id", acc.ID.String()), zap.Error(err))
	}
	if same {
		metrics.RecordRecovery("commit", "same_as_old")
		return CommitResult{Status: CommitSameAsOld}, nil
	}

	hash, err := pkgcrypto.HashPassword(newPassword)
	if err != nil {
		metrics.RecordRecovery("commit", "persist_failed")
		return CommitResult{Status: CommitPersistFailed, Reason: err.Error()}, nil
	}
	if err := s.accounts.UpdatePasswordHash(ctx, rs.AccountID, hash); err != nil {
		metrics.RecordRecovery("commit", "persist_failed")
		return CommitResult{Status: CommitPersistFailed, Reason: err.Error()}, nil
	}

	sess.Recovery = nil
	metrics.RecordRecovery("commit", "success")
	return CommitResult{Status: CommitSuccess}, nil
}
