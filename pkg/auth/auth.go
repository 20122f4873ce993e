// Package auth signs and verifies the HS256 bearer tokens of the obra API. It is a
// leaf package with no domain dependencies.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime when none is given.
const DefaultTTL = 24 * time.Hour

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

var (
	ErrWeakSecret       = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLength)
	ErrEmptyToken       = errors.New("auth: token is empty")
	ErrMissingWorkspace = errors.New("auth: token has no workspace_id")
)

// Claims are the obra token claims. UserID and WorkspaceID are custom claims; the
// rest are standard.
type Claims struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// Signer issues and parses tokens with one shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer. A ttl <= 0 means DefaultTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign creates a token for userID acting in workspaceID.
func (s *Signer) Sign(userID, workspaceID string) (string, error) {
	if workspaceID == "" {
		return "", ErrMissingWorkspace
	}
	now := s.now()
	claims := &Claims{
		UserID:      userID,
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenString and returns its claims. Only HMAC signatures are
// accepted.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims or signature")
	}
	if claims.WorkspaceID == "" {
		return nil, ErrMissingWorkspace
	}
	return claims, nil
}
