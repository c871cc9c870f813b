package httpserver

import (
	"encoding/json"
	"net/http"
)

// API error codes returned in JSON { "error": "...", "code": "..." }.
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountLocked      = "account_locked"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeInvalidCode        = "invalid_code"
	ErrCodeCodeExpired        = "code_expired"
	ErrCodeTooManyAttempts    = "too_many_attempts"
	ErrCodeRestart            = "restart_required"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodePasswordMismatch   = "password_mismatch"
	ErrCodePasswordReused     = "password_reused"
	ErrCodeUnavailable        = "temporarily_unavailable"
	ErrCodeInternal           = "internal_error"
)

// Generic user-facing messages. Details stay in the logs.
const (
	msgInvalidCredentials = "invalid username or password"
	msgLocked             = "too many failed attempts, try again later"
	msgUnavailable        = "something went wrong, please try again later"
	msgRestart            = "your recovery session is no longer valid, please start again"
)

// restartPath is where a client must go when a recovery step was skipped or expired.
const restartPath = "/forgot-password"

type errorBody struct {
	Error             string   `json:"error"`
	Code              string   `json:"code"`
	Errors            []string `json:"errors,omitempty"`
	AttemptsRemaining *int     `json:"attempts_remaining,omitempty"`
	RetryAfter        int      `json:"retry_after,omitempty"`
	LockoutEngaged    bool     `json:"lockout_engaged,omitempty"`
	Restart           string   `json:"restart,omitempty"`
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorBody{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
