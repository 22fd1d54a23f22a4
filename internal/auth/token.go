// Package auth issues and verifies principal tokens for callers of the
// engine. Tokens are HS256 JWTs carrying the user id as subject and the held
// role names as a claim.
package auth

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// claims extends the registered claim set with role names.
type claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// TokenIssuer signs and verifies principal tokens with a shared HS256 key.
type TokenIssuer struct {
	signKey []byte
	ttl     time.Duration
}

// NewTokenIssuer constructs an issuer with the given signing key and TTL.
func NewTokenIssuer(signKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signKey: signKey, ttl: ttl}
}

// Issue creates a signed token for the given user and roles.
func (i *TokenIssuer) Issue(userID uuid.UUID, roles []string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(i.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: roles,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.signKey)
	return signed, exp, err
}

// Verify parses and validates a token, returning the principal it names.
// ip travels alongside so ip-typed access rules can be evaluated; it is
// caller-supplied, not part of the token.
func (i *TokenIssuer) Verify(tokenString, ip string) (model.Principal, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.signKey, nil
	})
	if err != nil || !tok.Valid {
		return model.Principal{}, errs.ErrDenied
	}
	uid, err := uuid.FromString(c.Subject)
	if err != nil {
		return model.Principal{}, errs.ErrDenied
	}
	return model.Principal{UserID: uid, Roles: c.Roles, IP: ip}, nil
}
