package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrOwnerMismatch = errors.New("token belongs to another owner")
	ErrTokenExpired  = errors.New("token expired")
)

// Claims carries the owner key as the JWT subject.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for owner.
func IssueToken(secret, owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies the signature and returns claims.
func ParseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Verifier accepts only tokens issued for one owner.
type Verifier struct {
	Secret string
	Owner  string
}

func NewVerifier(secret, owner string) *Verifier {
	return &Verifier{Secret: secret, Owner: owner}
}

// Verify returns the token's owner, or an error when the token is invalid or
// bound to a different owner.
func (v *Verifier) Verify(token string) (string, error) {
	claims, err := ParseToken(v.Secret, token)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject != v.Owner {
		return "", ErrOwnerMismatch
	}
	return claims.Subject, nil
}
