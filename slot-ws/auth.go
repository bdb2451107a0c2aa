package slotws

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectClaims are the identity claims carried by a signed connect token.
// When token verification is configured, these override the client-asserted
// query parameters, so role is never taken on faith.
type ConnectClaims struct {
	MeetingID     string `json:"meetingId"`
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed connect tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a connect token, returning its claims.
func (v *Verifier) Verify(tokenString string) (*ConnectClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConnectClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("connect token expired: %w", err)
		}
		return nil, fmt.Errorf("invalid connect token: %w", err)
	}

	claims, ok := token.Claims.(*ConnectClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid connect token claims")
	}
	return claims, nil
}

// Sign issues a connect token for the given identity. Intended for the
// meeting join endpoint and for tests.
func (v *Verifier) Sign(claims ConnectClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign connect token: %w", err)
	}
	return signed, nil
}
