package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token signs and verifies admin bearer tokens (HS256).
type Token struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewToken builds a token helper using the provided secret.
func NewToken(secretKey string, ttl time.Duration) *Token {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Token{secretKey: []byte(secretKey), ttl: ttl, now: time.Now}
}

// Generate issues a JWT for the admin user.
func (t *Token) Generate(username string) (string, time.Time, error) {
	if len(t.secretKey) == 0 {
		return "", time.Time{}, errors.New("admin token secret is empty")
	}

	now := t.now()
	expireTime := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(expireTime),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expireTime, nil
}

// Verify validates the JWT and returns the subject.
func (t *Token) Verify(tokenString string) (string, error) {
	if len(t.secretKey) == 0 {
		return "", errors.New("admin token secret is empty")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secretKey, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid subject claim")
	}
	return claims.Subject, nil
}
