package httpserver

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	chimid "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/session"
)

// Logging writes one structured line per request. Bodies are never logged.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimid.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", chimid.GetReqID(r.Context())),
			)
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					writeErr(w, http.StatusInternalServerError, ErrCodeInternal, "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// sessions loads the client's state from the cookie token, or starts a new
// session under a fresh server-generated token. Unknown tokens are never adopted.
// Requests carrying the same token run one at a time: the token stays locked
// until the handler has saved the state.
func (s *Server) sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cs := &clientSession{}

		if c, err := r.Cookie(s.opts.CookieName); err == nil && session.ValidToken(c.Value) {
			unlock, err := s.store.Lock(ctx, c.Value)
			if err != nil {
				s.log.Warn("session lock", zap.Error(err))
				writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
				return
			}
			defer unlock()

			st, err := s.store.Load(ctx, c.Value)
			switch {
			case err == nil:
				cs.token, cs.state = c.Value, st
			case errors.Is(err, errs.ErrNotFound):
			case errors.Is(err, session.ErrCorrupt):
				s.log.Warn("discarding unreadable session state", zap.Error(err))
			default:
				s.log.Error("session load failed", zap.Error(err))
				writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
				return
			}
		}

		if cs.token == "" {
			tok, err := session.NewToken()
			if err != nil {
				s.log.Error("session token", zap.Error(err))
				writeErr(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
				return
			}
			cs.token, cs.state = tok, &model.SessionState{}
			s.setCookie(w, tok)
		}

		ctx = withSession(ctx, cs)
		if cs.state.Principal != nil {
			ctx = WithPrincipal(ctx, cs.state.Principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opts.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireAdmin admits a session principal or a bearer access token with the admin role.
// Rejected requests never reach the handler.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromCtx(r.Context())
		if raw, has := bearerToken(r); has {
			bp, err := s.tokens.Parse(raw)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
				return
			}
			p, ok = bp, true
		}
		if !ok {
			writeErr(w, http.StatusUnauthorized, ErrCodeUnauthorized, "login required")
			return
		}
		if p.Role != model.RoleAdmin {
			writeErr(w, http.StatusForbidden, ErrCodeForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// bearerToken returns the credentials of a Bearer Authorization header.
// Other schemes are ignored.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	const pfx = "bearer "
	if len(h) < len(pfx) || !strings.EqualFold(h[:len(pfx)], pfx) {
		return "", false
	}
	return strings.TrimSpace(h[len(pfx):]), true
}
