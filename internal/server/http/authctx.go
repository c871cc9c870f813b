package httpserver

import (
	"context"

	"github.com/and161185/cafe-backoffice/internal/model"
)

type ctxKey string

const (
	principalKey ctxKey = "cafe.principal"
	sessionKey   ctxKey = "cafe.session"
)

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated principal from context.
func PrincipalFromCtx(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// clientSession is the per-request view of a client's session.
type clientSession struct {
	token     string
	state     *model.SessionState
	destroyed bool
}

func withSession(ctx context.Context, cs *clientSession) context.Context {
	return context.WithValue(ctx, sessionKey, cs)
}

func sessionFromCtx(ctx context.Context) *clientSession {
	cs, _ := ctx.Value(sessionKey).(*clientSession)
	return cs
}
