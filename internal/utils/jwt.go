package utils // package utils provides helper functions for token creation

import (
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// WriteToken is a signed JWT that unlocks the write routes along with its expiry.
type WriteToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewWriteToken builds and signs an HS256 JWT for subject valid for ttl.
// The token carries the standard sub, exp and iat claims only.
func NewWriteToken(secret, subject string, ttl time.Duration) (WriteToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return WriteToken{}, err
	}
	return WriteToken{Token: signed, Exp: exp}, nil
}
