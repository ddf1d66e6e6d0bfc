// Package auth provides the credential and session primitives of the API:
// password hashing (password.go), signed session tokens (jwt.go), the session
// cookie (cookie.go) and the middleware that turns a cookie into an
// authenticated identity (middleware.go).
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. POST /api/auth/register or /api/auth/login proves the credentials
//  2. The server issues an HS256 JWT whose subject is the user's id and
//     stores it in the HttpOnly "auth_token" cookie
//  3. On later requests the SessionResolver reads the cookie, verifies the
//     JWT, then re-reads the user from the repository so that suspension,
//     ban or deletion takes effect on the very next request
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":"matcha","sub":"<user id>","ver":<session version>,"iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// WHY A SESSION VERSION?
// A JWT is valid until it expires; the server keeps no list of issued tokens.
// To kill old sessions anyway, every user row carries a counter that is
// copied into each token as "ver". Changing the password bumps the counter,
// and the resolver rejects any token whose "ver" no longer matches the row.
// A timestamp would not do: "iat" has one-second precision, so a token
// minted in the same second as the change would slip through.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	// DefaultTokenTTL is the lifetime of an issued token.
	DefaultTokenTTL = 30 * 24 * time.Hour

	// MinSecretLength is the shortest signing secret accepted at startup.
	MinSecretLength = 32

	tokenIssuer = "matcha"
)

// ErrInvalidToken is the single outcome of every failed verification: bad
// signature, wrong algorithm, expired, wrong issuer, malformed subject. The
// specific cause is only included in the error text for logging.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the verified content of a token.
type Claims struct {
	UserID         string
	SessionVersion int
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// tokenClaims is the wire form of Claims.
type tokenClaims struct {
	jwt.RegisteredClaims
	SessionVersion *int `json:"ver"`
}

// TokenService issues and verifies HS256 JWTs.
//
// The secret is set once at construction and never changes, so a single
// TokenService is safe for concurrent use by every request.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime. A zero ttl selects DefaultTokenTTL.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl < 0 {
		return nil, errors.New("auth: token lifetime must be positive")
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates and signs a token for the given user id, bound to the
// user's current session version.
func (s *TokenService) Issue(userID string, sessionVersion int) (string, error) {
	now := s.now()

	c := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    tokenIssuer,
		},
		SessionVersion: &sessionVersion,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and checks a token string.
//
// Checks performed:
//   - signature matches, and the header algorithm is HS256
//   - issuer is "matcha"
//   - exp is present and in the future, iat is present
//   - subject parses as an xid
//   - ver is present
//
// Every failure satisfies errors.Is(err, ErrInvalidToken).
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	var c tokenClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}
	if _, err := xid.FromString(c.Subject); err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	if c.SessionVersion == nil {
		return nil, fmt.Errorf("%w: missing session version", ErrInvalidToken)
	}

	return &Claims{
		UserID:         c.Subject,
		SessionVersion: *c.SessionVersion,
		IssuedAt:       c.IssuedAt.Time,
		ExpiresAt:      c.ExpiresAt.Time,
	}, nil
}
