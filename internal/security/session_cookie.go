package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SessionCookieName = "sid"

var ErrInvalidSessionCookie = errors.New("invalid session cookie")

type sessionClaims struct {
	jwt.RegisteredClaims
}

// SessionCookieCodec wraps the opaque session id in a signed JWT so the
// cookie cannot be forged to point at another session.
type SessionCookieCodec struct {
	issuer string
	key    []byte
	now    func() time.Time
}

func NewSessionCookieCodec(issuer, secret string) (*SessionCookieCodec, error) {
	key, err := DeriveKey(secret, "session-cookie", 32)
	if err != nil {
		return nil, err
	}
	return &SessionCookieCodec{issuer: issuer, key: key, now: time.Now}, nil
}

func (c *SessionCookieCodec) WithClock(now func() time.Time) *SessionCookieCodec {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *SessionCookieCodec) Encode(sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("encode session cookie: empty session id")
	}
	now := c.now()
	claims := sessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    c.issuer,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

func (c *SessionCookieCodec) Decode(raw string) (string, error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.key, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.now))
	if err != nil || !tok.Valid || claims.ID == "" {
		return "", ErrInvalidSessionCookie
	}
	return claims.ID, nil
}
