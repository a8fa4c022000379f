// Package auth mints and verifies the short-lived, single-canvas tokens
// that gate room joins. Tokens are HS256 JWTs; holders cannot alter the
// embedded canvas id without the signing secret.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	DisplayName string `json:"name"`
	DocumentID  string `json:"doc"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken mints a token scoped to exactly one canvas. Subject is the
// user id; expiry is now+ttl.
func IssueToken(secret []byte, userID, displayName, documentID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		DisplayName: displayName,
		DocumentID:  documentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates signature and expiry and returns the claims.
func ParseToken(secret []byte, raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.DocumentID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
