package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential      = errors.New("auth: no credential available")
	ErrExpiredCredential = errors.New("auth: credential expired")
	ErrMalformedToken    = errors.New("auth: malformed token")
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Credential is the bearer token bound to a session, plus the claims the
// client can read out of it. The token is issued by the external auth
// service; the client never verifies the signature, it only checks that
// the token exists and has not expired before attempting a connection.
type Credential struct {
	Token  string
	UserID string
	Expiry time.Time
}

// ParseCredential inspects a bearer token without verifying its signature.
// An empty token is a fail-fast condition: no connection attempt may be
// made without one.
func ParseCredential(token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNoCredential
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, ErrMalformedToken
	}

	cred := &Credential{Token: token, UserID: claims.UserID}
	if claims.ExpiresAt != nil {
		cred.Expiry = claims.ExpiresAt.Time
		if time.Now().After(cred.Expiry) {
			return nil, ErrExpiredCredential
		}
	}
	return cred, nil
}
