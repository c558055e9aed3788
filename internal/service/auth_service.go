// internal/service/auth_service.go
package service

import (
	"errors"
	"time"

	"gowa-bridge/internal/helper"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("authentication is not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by bearer tokens.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator checks HS256 bearer tokens and bcrypt-hashed API keys.
// A zero value accepts nothing.
type Authenticator struct {
	jwtSecret  []byte
	apiKeyHash string
}

func NewAuthenticator(jwtSecret, apiKeyHash string) *Authenticator {
	return &Authenticator{jwtSecret: []byte(jwtSecret), apiKeyHash: apiKeyHash}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (len(a.jwtSecret) > 0 || a.apiKeyHash != "")
}

func (a *Authenticator) TokensEnabled() bool {
	return a != nil && len(a.jwtSecret) > 0
}

func (a *Authenticator) APIKeysEnabled() bool {
	return a != nil && a.apiKeyHash != ""
}

// GenerateAccessToken signs a token for subject valid for ttl.
func (a *Authenticator) GenerateAccessToken(subject, role string, ttl time.Duration) (string, error) {
	if !a.TokensEnabled() {
		return "", ErrAuthDisabled
	}
	now := time.Now()

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateAccessToken validates a bearer token and returns its claims.
func (a *Authenticator) ValidateAccessToken(tokenString string) (*Claims, error) {
	if !a.TokensEnabled() {
		return nil, ErrAuthDisabled
	}
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// CheckAPIKey compares key against the configured bcrypt hash.
func (a *Authenticator) CheckAPIKey(key string) bool {
	if !a.APIKeysEnabled() || key == "" {
		return false
	}
	return helper.VerifyAPIKey(a.apiKeyHash, key) == nil
}
