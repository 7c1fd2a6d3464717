// Package auth issues and checks JWTs and guards gin routes with them.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or type checks.
var ErrInvalidToken = errors.New("invalid token")

const refreshTokenType = "refresh"

// AccessClaims are carried by short-lived access tokens
type AccessClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by long-lived refresh tokens
type RefreshClaims struct {
	UserID int64  `json:"user_id"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// TokenManager signs and parses HS256 tokens
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager creates a token manager
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// AccessTTL is the lifetime of issued access tokens
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue signs a fresh access and refresh token for the user
func (m *TokenManager) Issue(userID int64, role string) (*TokenPair, error) {
	access, accessExp, err := m.SignAccess(userID, role)
	if err != nil {
		return nil, err
	}

	now := m.now()
	refreshExp := now.Add(m.refreshTTL)
	claims := RefreshClaims{
		UserID: userID,
		Type:   refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// SignAccess signs an access token only
func (m *TokenManager) SignAccess(userID int64, role string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.accessTTL)
	claims := AccessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, exp, nil
}

// ParseAccess validates an access token and returns its claims
func (m *TokenManager) ParseAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(raw, m.accessSecret, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ParseRefresh validates a refresh token and returns its claims
func (m *TokenManager) ParseRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(raw, m.refreshSecret, &claims); err != nil {
		return nil, err
	}
	if claims.Type != refreshTokenType {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return &claims, nil
}

func (m *TokenManager) parse(raw string, secret []byte, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
