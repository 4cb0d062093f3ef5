// Package identity issues and validates API bearer tokens.
//
// Tokens are HS256-signed JWTs carrying a "username" claim. There is no user
// store: any holder of a token signed with the configured secret is trusted,
// optionally narrowed to an allow-list of usernames.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by the authenticator.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrUnknownUser    = errors.New("username not allowed")
	ErrMissingSecret  = errors.New("token secret is not configured")
	ErrMissingSubject = errors.New("username is required")
)

// Config contains token settings.
type Config struct {
	SecretKey string
	// AllowedUsers restricts accepted usernames. Empty accepts any username.
	AllowedUsers []string
	// TokenDuration sets the expiry of issued tokens. Zero issues tokens without expiry.
	TokenDuration time.Duration
}

// Claims are the JWT claims of an API token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator validates and issues bearer tokens.
type Authenticator struct {
	secret  []byte
	allowed map[string]struct{}
	ttl     time.Duration
	now     func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecret
	}

	a := &Authenticator{
		secret: []byte(cfg.SecretKey),
		ttl:    cfg.TokenDuration,
		now:    time.Now,
	}
	if len(cfg.AllowedUsers) > 0 {
		a.allowed = make(map[string]struct{}, len(cfg.AllowedUsers))
		for _, u := range cfg.AllowedUsers {
			a.allowed[u] = struct{}{}
		}
	}
	return a, nil
}

// IssueToken signs a token for username.
func (a *Authenticator) IssueToken(username string) (string, error) {
	if username == "" {
		return "", ErrMissingSubject
	}

	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the signature and expiry and returns the username.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Username == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingSubject)
	}
	if a.allowed != nil {
		if _, ok := a.allowed[claims.Username]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownUser, claims.Username)
		}
	}
	return claims.Username, nil
}
