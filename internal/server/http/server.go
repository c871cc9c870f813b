// Package httpserver exposes the login and password recovery endpoints over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/health"
	"github.com/and161185/cafe-backoffice/internal/metrics"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/repository"
	"github.com/and161185/cafe-backoffice/internal/service"
	"github.com/and161185/cafe-backoffice/internal/session"
)

const maxBodyBytes = 1 << 16

// TokenParser validates bearer access tokens.
type TokenParser interface {
	Parse(raw string) (*model.Principal, error)
}

// Options configures the session cookie.
type Options struct {
	CookieName   string
	SecureCookie bool
	SessionTTL   time.Duration
}

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	reset    service.ResetService
	accounts repository.AccountRepository
	store    session.Store
	tokens   TokenParser
	checks   health.Checks
	opts     Options
	validate *validator.Validate
	log      *zap.Logger
}

// New constructs a Server with injected services.
func New(
	auth service.AuthService,
	reset service.ResetService,
	accounts repository.AccountRepository,
	store session.Store,
	tokens TokenParser,
	checks health.Checks,
	opts Options,
	log *zap.Logger,
) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "cafe_session"
	}
	return &Server{
		auth:     auth,
		reset:    reset,
		accounts: accounts,
		store:    store,
		tokens:   tokens,
		checks:   checks,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(chimid.RealIP)
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimid.AllowContentType("application/json"))
		r.Use(s.sessions)

		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/verify-otp", s.handleVerifyOTP)
		r.Post("/resend-otp", s.handleResendOTP)
		r.Post("/reset-password", s.handleResetPassword)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/staff", s.handleListStaff)
		})
	})
	return r
}

// decode reads a JSON body into dst and validates it. An empty body decodes as {}.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Code:   ErrCodeInvalidRequest,
			Errors: fieldErrors(err),
		})
		return false
	}
	return true
}

func fieldErrors(err error) []string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			out = append(out, fe.Field()+" is required")
		case "max":
			out = append(out, fe.Field()+" is too long")
		default:
			out = append(out, fe.Field()+" is invalid")
		}
	}
	return out
}

// respond persists the client's session state and then writes v.
// If the state cannot be saved the client gets 503 instead, so no
// success is reported for a transition that was not stored.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, v any) {
	if err := s.persist(r.Context(), w); err != nil {
		s.log.Error("session save failed", zap.Error(err))
		writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
		return
	}
	writeJSON(w, code, v)
}

func (s *Server) persist(ctx context.Context, w http.ResponseWriter) error {
	cs := sessionFromCtx(ctx)
	if cs == nil {
		return nil
	}
	if cs.destroyed {
		s.clearCookie(w)
		return s.store.Delete(ctx, cs.token)
	}
	return s.store.Save(ctx, cs.token, cs.state)
}

// rotate moves the session state under a fresh token.
func (s *Server) rotate(ctx context.Context, w http.ResponseWriter) error {
	cs := sessionFromCtx(ctx)
	tok, err := session.NewToken()
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, cs.token); err != nil {
		return err
	}
	cs.token = tok
	s.setCookie(w, tok)
	return nil
}

// fail maps an operation error to a response. Details are logged, never returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrStateInconsistency):
		s.respond(w, r, http.StatusConflict, errorBody{Error: msgRestart, Code: ErrCodeRestart, Restart: restartPath})
	case errors.Is(err, errs.ErrDependencyFailure):
		s.log.Error(op, zap.Error(err))
		writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
	default:
		s.log.Error(op, zap.Error(err))
		writeErr(w, http.StatusInternalServerError, ErrCodeInternal, "internal")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.checks.Run(r.Context(), 3*time.Second)
	code := http.StatusOK
	if !rep.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}
