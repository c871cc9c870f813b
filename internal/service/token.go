package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
)

type accessClaims struct {
	Username string     `json:"usr"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses HS256 access tokens.
type TokenIssuer struct {
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenIssuer returns an issuer for the given key and lifetime.
func NewTokenIssuer(signKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signKey: signKey, ttl: ttl, now: time.Now}
}

// Issue creates a signed access token for p.
func (ti *TokenIssuer) Issue(p model.Principal) (model.Tokens, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := accessClaims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(ti.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates raw and returns the principal it was issued for.
// Any invalid, expired or foreign token yields errs.ErrUnauthorized.
func (ti *TokenIssuer) Parse(raw string) (*model.Principal, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return ti.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	role, err := model.ParseRole(string(claims.Role))
	if err != nil {
		return nil, errors.Join(errs.ErrUnauthorized, err)
	}
	return &model.Principal{AccountID: id, Username: claims.Username, Role: role}, nil
}
