package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/service"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type loginResponse struct {
	Status      string     `json:"status"`
	Username    string     `json:"username"`
	Role        model.Role `json:"role"`
	Redirect    string     `json:"redirect"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Redirect string `json:"redirect,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs := sessionFromCtx(r.Context())

	res, err := s.auth.AttemptLogin(r.Context(), cs.state, req.Username, req.Password)
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}

	switch res.Status {
	case service.LoginAdmitted:
		if err := s.rotate(r.Context(), w); err != nil {
			s.log.Error("session rotate failed", zap.Error(err))
			writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
			return
		}
		s.respond(w, r, http.StatusOK, loginResponse{
			Status:      "admitted",
			Username:    res.Account.Username,
			Role:        res.Account.Role,
			Redirect:    res.Account.Role.Home(),
			AccessToken: res.Tokens.AccessToken,
			ExpiresAt:   res.Tokens.ExpiresAt,
		})
	case service.LoginInvalidCredentials:
		n := res.AttemptsRemaining
		s.respond(w, r, http.StatusUnauthorized, errorBody{
			Error:             msgInvalidCredentials,
			Code:              ErrCodeInvalidCredentials,
			AttemptsRemaining: &n,
		})
	case service.LoginLockoutEngaged, service.LoginCooldownActive:
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
		s.respond(w, r, http.StatusTooManyRequests, errorBody{
			Error:          msgLocked,
			Code:           ErrCodeAccountLocked,
			RetryAfter:     res.RetryAfter,
			LockoutEngaged: res.LockoutJustEngaged(),
		})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cs := sessionFromCtx(r.Context())
	service.Logout(cs.state)
	cs.destroyed = true
	s.respond(w, r, http.StatusOK, statusResponse{Status: "logged_out", Redirect: "/login"})
}

type forgotRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs := sessionFromCtx(r.Context())

	res, err := s.reset.RequestReset(r.Context(), cs.state, req.Username)
	if err != nil {
		s.fail(w, r, "request reset", err)
		return
	}

	switch res.Status {
	case service.RequestIssued:
		s.respond(w, r, http.StatusOK, statusResponse{Status: "code_sent", Redirect: "/verify-otp"})
	case service.RequestInvalidInput:
		s.respond(w, r, http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Code:   ErrCodeInvalidRequest,
			Errors: []string{"username must be a valid email address"},
		})
	case service.RequestNotFound:
		s.respond(w, r, http.StatusNotFound, errorBody{Error: "no active account with that username", Code: ErrCodeNotFound})
	case service.RequestDispatchFailed:
		s.log.Error("reset code dispatch failed", zap.String("reason", res.Reason))
		s.respond(w, r, http.StatusServiceUnavailable, errorBody{Error: msgUnavailable, Code: ErrCodeUnavailable})
	}
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs := sessionFromCtx(r.Context())

	res, err := s.reset.VerifyOTP(r.Context(), cs.state, req.Code)
	if err != nil {
		s.fail(w, r, "verify otp", err)
		return
	}

	switch res.Status {
	case service.VerifyVerified:
		s.respond(w, r, http.StatusOK, statusResponse{Status: "verified", Redirect: "/reset-password"})
	case service.VerifyMismatch:
		body := errorBody{Error: "the code is not correct", Code: ErrCodeInvalidCode}
		if res.AttemptsRemaining > 0 {
			n := res.AttemptsRemaining
			body.AttemptsRemaining = &n
		}
		s.respond(w, r, http.StatusUnauthorized, body)
	case service.VerifyTooManyAttempts:
		s.respond(w, r, http.StatusTooManyRequests, errorBody{
			Error: "too many wrong codes, request a new one",
			Code:  ErrCodeTooManyAttempts,
		})
	case service.VerifyExpired:
		s.respond(w, r, http.StatusConflict, errorBody{
			Error:   "the code has expired, please request a new one",
			Code:    ErrCodeCodeExpired,
			Restart: restartPath,
		})
	case service.VerifyNoSession:
		s.respond(w, r, http.StatusConflict, errorBody{Error: msgRestart, Code: ErrCodeRestart, Restart: restartPath})
	}
}

type resendRequest struct{}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs := sessionFromCtx(r.Context())

	res, err := s.reset.ResendOTP(r.Context(), cs.state)
	if err != nil {
		s.fail(w, r, "resend otp", err)
		return
	}

	switch res.Status {
	case service.ResendSent:
		s.respond(w, r, http.StatusOK, statusResponse{Status: "code_sent"})
	case service.ResendNoSession:
		s.respond(w, r, http.StatusConflict, errorBody{Error: msgRestart, Code: ErrCodeRestart, Restart: restartPath})
	case service.ResendDispatchFailed:
		s.log.Error("reset code resend failed", zap.String("reason", res.Reason))
		s.respond(w, r, http.StatusServiceUnavailable, errorBody{Error: msgUnavailable, Code: ErrCodeUnavailable})
	}
}

type resetRequest struct {
	NewPassword     string `json:"new_password" validate:"max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"max=128"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs := sessionFromCtx(r.Context())

	res, err := s.reset.CommitNewPassword(r.Context(), cs.state, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		s.fail(w, r, "reset password", err)
		return
	}

	switch res.Status {
	case service.CommitSuccess:
		s.respond(w, r, http.StatusOK, statusResponse{Status: "password_changed", Redirect: "/login"})
	case service.CommitPolicyViolation:
		s.respond(w, r, http.StatusBadRequest, errorBody{
			Error:  "password must meet all requirements",
			Code:   ErrCodeWeakPassword,
			Errors: res.Reasons,
		})
	case service.CommitMismatch:
		s.respond(w, r, http.StatusBadRequest, errorBody{Error: "passwords do not match", Code: ErrCodePasswordMismatch})
	case service.CommitSameAsOld:
		s.respond(w, r, http.StatusBadRequest, errorBody{
			Error: "new password must differ from the current one",
			Code:  ErrCodePasswordReused,
		})
	case service.CommitPersistFailed:
		s.log.Error("password update failed", zap.String("reason", res.Reason))
		s.respond(w, r, http.StatusServiceUnavailable, errorBody{Error: msgUnavailable, Code: ErrCodeUnavailable})
	}
}

type staffMember struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	Role      model.Role   `json:"role"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

func (s *Server) handleListStaff(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.ListByRole(r.Context(), model.RoleStaff)
	if err != nil {
		s.log.Error("list staff", zap.Error(err))
		writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
		return
	}
	out := make([]staffMember, 0, len(list))
	for _, a := range list {
		out = append(out, staffMember{
			ID:        a.ID.String(),
			Username:  a.Username,
			Role:      a.Role,
			Status:    a.Status,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": out})
}
