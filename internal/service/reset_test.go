package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/cafe-backoffice/internal/crypto"
	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/mailer"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/otp"
	"github.com/and161185/cafe-backoffice/internal/policy"
)

const oldPassword = "Old#pass99"

type resetFixture struct {
	accounts *fakeAccounts
	mail     *fakeMailer
	clock    *clock
	svc      *ResetServiceImpl
	account  *model.Account
}

func newReset(t *testing.T, cfg ResetConfig) *resetFixture {
	t.Helper()
	f := &fakeAccounts{}
	acc := seed(t, f, "user@x.com", oldPassword, model.RoleStaff)
	m := &fakeMailer{}
	c := newClock()
	s := NewResetService(f, m, cfg, zaptest.NewLogger(t))
	s.now = c.now
	return &resetFixture{accounts: f, mail: m, clock: c, svc: s, account: acc}
}

func (fx *resetFixture) request(t *testing.T, sess *model.SessionState) string {
	t.Helper()
	res, err := fx.svc.RequestReset(context.Background(), sess, fx.account.Username)
	if err != nil || res.Status != RequestIssued {
		t.Fatalf("RequestReset: res=%+v err=%v", res, err)
	}
	return fx.mail.lastCode(t)
}

func wrongCode(code string) string {
	if code == "999999" {
		return "100000"
	}
	return "999999"
}

func TestResetFlow_HappyPath(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	if got := fx.mail.sent[0]; got.to != "user@x.com" || got.purpose != mailer.PurposeReset {
		t.Fatalf("unexpected dispatch: %+v", got)
	}
	if n, ok := otp.Parse(code); !ok || n < otp.Min || n > otp.Max {
		t.Fatalf("code out of range: %q", code)
	}
	if !sess.Recovery.OTPExpiresAt.Equal(fx.clock.t.Add(10 * time.Minute)) {
		t.Fatalf("expiry must be now+10m, got %v", sess.Recovery.OTPExpiresAt)
	}

	fx.clock.advance(9 * time.Minute)
	vr, err := fx.svc.VerifyOTP(ctx, sess, code)
	if err != nil || vr.Status != VerifyVerified || !sess.Recovery.OTPVerified {
		t.Fatalf("VerifyOTP: res=%+v err=%v", vr, err)
	}

	cr, err := fx.svc.CommitNewPassword(ctx, sess, "Weakpass1", "Weakpass1")
	if err != nil {
		t.Fatalf("CommitNewPassword: %v", err)
	}
	if cr.Status != CommitPolicyViolation || !reflect.DeepEqual(cr.Reasons, []string{policy.ReasonSpecial}) {
		t.Fatalf("want special-character violation, got %+v", cr)
	}

	cr, err = fx.svc.CommitNewPassword(ctx, sess, "Strong#Pass1", "Strong#Pass1")
	if err != nil || cr.Status != CommitSuccess {
		t.Fatalf("CommitNewPassword: res=%+v err=%v", cr, err)
	}
	if sess.Recovery != nil {
		t.Fatalf("recovery must be erased after success")
	}
	if ok, _ := pkgcrypto.VerifyPassword("Strong#Pass1", fx.accounts.hashOf("user@x.com")); !ok {
		t.Fatalf("new password not persisted")
	}

	vr, _ = fx.svc.VerifyOTP(ctx, sess, code)
	if vr.Status != VerifyNoSession {
		t.Fatalf("used code must find no session, got %+v", vr)
	}
	if _, err := fx.svc.CommitNewPassword(ctx, sess, "Other#Pass2", "Other#Pass2"); !errors.Is(err, errs.ErrStateInconsistency) {
		t.Fatalf("second commit must fail precondition, got %v", err)
	}
}

func TestRequestReset_InvalidInputAndNotFound(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	ctx := context.Background()

	for _, in := range []string{"", "not-an-email", "a@", "@b.com"} {
		res, err := fx.svc.RequestReset(ctx, &model.SessionState{}, in)
		if err != nil || res.Status != RequestInvalidInput {
			t.Fatalf("%q: want InvalidInput, got %+v err=%v", in, res, err)
		}
	}
	if fx.accounts.finds != 0 {
		t.Fatalf("invalid input must not query accounts")
	}

	sess := &model.SessionState{}
	res, err := fx.svc.RequestReset(ctx, sess, "ghost@x.com")
	if err != nil || res.Status != RequestNotFound {
		t.Fatalf("want NotFound, got %+v err=%v", res, err)
	}
	if sess.Recovery != nil || len(fx.mail.sent) != 0 {
		t.Fatalf("unknown user must not open a recovery or send mail")
	}
}

func TestRequestReset_MaskNotFound(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{MaskNotFound: true})

	res, err := fx.svc.RequestReset(context.Background(), &model.SessionState{}, "ghost@x.com")
	if err != nil || res.Status != RequestIssued {
		t.Fatalf("masked unknown user must look issued, got %+v err=%v", res, err)
	}
	if len(fx.mail.sent) != 0 {
		t.Fatalf("nothing may be sent for an unknown user")
	}
}

func TestRequestReset_DispatchFailureKeepsSession(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	fx.mail.err = errors.New("smtp: 554 relay denied")
	sess := &model.SessionState{}
	ctx := context.Background()

	res, err := fx.svc.RequestReset(ctx, sess, "user@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if res.Status != RequestDispatchFailed || res.Reason != "smtp: 554 relay denied" {
		t.Fatalf("want DispatchFailed with reason, got %+v", res)
	}
	if sess.Recovery == nil {
		t.Fatalf("recovery must be retained after dispatch failure")
	}

	fx.mail.err = nil
	rr, err := fx.svc.ResendOTP(ctx, sess)
	if err != nil || rr.Status != ResendSent {
		t.Fatalf("ResendOTP: %+v err=%v", rr, err)
	}
}

func TestRequestReset_RepoError(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	fx.accounts.findErr = errors.New("db down")

	_, err := fx.svc.RequestReset(context.Background(), &model.SessionState{}, "user@x.com")
	if !errors.Is(err, errs.ErrDependencyFailure) {
		t.Fatalf("want ErrDependencyFailure, got %v", err)
	}
}

func TestRequestReset_OverwritesPriorSession(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, code); vr.Status != VerifyVerified {
		t.Fatalf("verify: %+v", vr)
	}
	fx.request(t, sess)
	if sess.Recovery.OTPVerified {
		t.Fatalf("a new request must start unverified")
	}
}

func TestVerifyOTP_ExpiredPurges(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	fx.clock.advance(10*time.Minute + time.Second)

	vr, err := fx.svc.VerifyOTP(ctx, sess, code)
	if err != nil || vr.Status != VerifyExpired {
		t.Fatalf("correct code after expiry must be Expired, got %+v err=%v", vr, err)
	}
	if sess.Recovery != nil {
		t.Fatalf("expired recovery must be purged")
	}
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, code); vr.Status != VerifyNoSession {
		t.Fatalf("after expiry want NoSession, got %+v", vr)
	}
}

func TestVerifyOTP_AcceptsAtExactExpiry(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}

	code := fx.request(t, sess)
	fx.clock.advance(10 * time.Minute)
	if vr, _ := fx.svc.VerifyOTP(context.Background(), sess, code); vr.Status != VerifyVerified {
		t.Fatalf("now == expiry must verify, got %+v", vr)
	}
}

func TestVerifyOTP_NoSession(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	if vr, _ := fx.svc.VerifyOTP(context.Background(), &model.SessionState{}, "123456"); vr.Status != VerifyNoSession {
		t.Fatalf("want NoSession, got %+v", vr)
	}
	if rr, _ := fx.svc.ResendOTP(context.Background(), &model.SessionState{}); rr.Status != ResendNoSession {
		t.Fatalf("resend without session: want NoSession, got %+v", rr)
	}
}

func TestResendOTP_InvalidatesOldCode(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	old := fx.request(t, sess)
	fx.clock.advance(8 * time.Minute)

	// force a different code so the assertion is deterministic
	for {
		rr, err := fx.svc.ResendOTP(ctx, sess)
		if err != nil || rr.Status != ResendSent {
			t.Fatalf("ResendOTP: %+v err=%v", rr, err)
		}
		if fx.mail.lastCode(t) != old {
			break
		}
	}
	fresh := fx.mail.lastCode(t)
	if !sess.Recovery.OTPExpiresAt.Equal(fx.clock.t.Add(10 * time.Minute)) {
		t.Fatalf("resend must extend expiry")
	}

	if vr, _ := fx.svc.VerifyOTP(ctx, sess, old); vr.Status != VerifyMismatch {
		t.Fatalf("old code must mismatch after resend, got %+v", vr)
	}
	fx.clock.advance(5 * time.Minute)
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, fresh); vr.Status != VerifyVerified {
		t.Fatalf("fresh code must verify past the old expiry, got %+v", vr)
	}
}

func TestResendOTP_KeepsVerifiedFlag(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	fx.svc.VerifyOTP(ctx, sess, code)
	if rr, _ := fx.svc.ResendOTP(ctx, sess); rr.Status != ResendSent {
		t.Fatalf("resend: %+v", rr)
	}
	if !sess.Recovery.OTPVerified {
		t.Fatalf("resend must not reset the verified flag")
	}

	fx.mail.err = errors.New("timeout")
	rr, err := fx.svc.ResendOTP(ctx, sess)
	if err != nil || rr.Status != ResendDispatchFailed || rr.Reason != "timeout" {
		t.Fatalf("want DispatchFailed, got %+v err=%v", rr, err)
	}
}

func TestVerifyOTP_MismatchLimiterBurnsCode(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{MaxMismatches: 3})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	bad := wrongCode(code)

	for want := 2; want >= 1; want-- {
		vr, _ := fx.svc.VerifyOTP(ctx, sess, bad)
		if vr.Status != VerifyMismatch || vr.AttemptsRemaining != want {
			t.Fatalf("want mismatch remaining=%d, got %+v", want, vr)
		}
	}
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, "12ab56"); vr.Status != VerifyTooManyAttempts {
		t.Fatalf("3rd mismatch must burn the code, got %+v", vr)
	}
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, code); vr.Status != VerifyTooManyAttempts {
		t.Fatalf("burned code must not verify, got %+v", vr)
	}

	fx.svc.ResendOTP(ctx, sess)
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, fx.mail.lastCode(t)); vr.Status != VerifyVerified {
		t.Fatalf("resend must re-arm verification, got %+v", vr)
	}
}

func TestVerifyOTP_NoLimiterByDefault(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := &model.SessionState{}
	ctx := context.Background()

	code := fx.request(t, sess)
	for i := 0; i < 20; i++ {
		if vr, _ := fx.svc.VerifyOTP(ctx, sess, wrongCode(code)); vr.Status != VerifyMismatch {
			t.Fatalf("attempt %d: want mismatch, got %+v", i, vr)
		}
	}
	if vr, _ := fx.svc.VerifyOTP(ctx, sess, code); vr.Status != VerifyVerified {
		t.Fatalf("want verified, got %+v", vr)
	}
}

func TestCommitNewPassword_Preconditions(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	ctx := context.Background()

	if _, err := fx.svc.CommitNewPassword(ctx, &model.SessionState{}, "Strong#Pass1", "Strong#Pass1"); !errors.Is(err, errs.ErrStateInconsistency) {
		t.Fatalf("no session: want ErrStateInconsistency, got %v", err)
	}

	sess := &model.SessionState{}
	fx.request(t, sess)
	if _, err := fx.svc.CommitNewPassword(ctx, sess, "Strong#Pass1", "Strong#Pass1"); !errors.Is(err, errs.ErrStateInconsistency) {
		t.Fatalf("unverified: want ErrStateInconsistency, got %v", err)
	}
	if fx.accounts.updates != 0 {
		t.Fatalf("no write may happen before verification")
	}
}

func verified(t *testing.T, fx *resetFixture) *model.SessionState {
	t.Helper()
	sess := &model.SessionState{}
	code := fx.request(t, sess)
	if vr, _ := fx.svc.VerifyOTP(context.Background(), sess, code); vr.Status != VerifyVerified {
		t.Fatalf("verify: %+v", vr)
	}
	return sess
}

func TestCommitNewPassword_Rejections(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := verified(t, fx)
	ctx := context.Background()

	cr, _ := fx.svc.CommitNewPassword(ctx, sess, "abc", "abc")
	want := []string{policy.ReasonLength, policy.ReasonUpper, policy.ReasonDigit, policy.ReasonSpecial}
	if cr.Status != CommitPolicyViolation || !reflect.DeepEqual(cr.Reasons, want) {
		t.Fatalf("want all violations collected, got %+v", cr)
	}

	if cr, _ := fx.svc.CommitNewPassword(ctx, sess, "Strong#Pass1", "Strong#Pass2"); cr.Status != CommitMismatch {
		t.Fatalf("want Mismatch, got %+v", cr)
	}
	if cr, _ := fx.svc.CommitNewPassword(ctx, sess, oldPassword, oldPassword); cr.Status != CommitSameAsOld {
		t.Fatalf("want SameAsOld, got %+v", cr)
	}
	if fx.accounts.updates != 0 || sess.Recovery == nil {
		t.Fatalf("rejections must not write or end the recovery")
	}
}

func TestCommitNewPassword_PersistFailed(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := verified(t, fx)
	fx.accounts.updateErr = errors.New("serialization failure")

	cr, err := fx.svc.CommitNewPassword(context.Background(), sess, "Strong#Pass1", "Strong#Pass1")
	if err != nil || cr.Status != CommitPersistFailed || cr.Reason == "" {
		t.Fatalf("want PersistFailed, got %+v err=%v", cr, err)
	}
	if sess.Recovery == nil || !sess.Recovery.OTPVerified {
		t.Fatalf("persist failure must keep the verified recovery for a retry")
	}
}

func TestCommitNewPassword_AccountGone(t *testing.T) {
	t.Parallel()
	fx := newReset(t, ResetConfig{})
	sess := verified(t, fx)
	fx.accounts.byName["user@x.com"].Status = model.StatusInactive

	if _, err := fx.svc.CommitNewPassword(context.Background(), sess, "Strong#Pass1", "Strong#Pass1"); !errors.Is(err, errs.ErrStateInconsistency) {
		t.Fatalf("want ErrStateInconsistency, got %v", err)
	}
	if sess.Recovery != nil {
		t.Fatalf("recovery for a deactivated account must be dropped")
	}
}
