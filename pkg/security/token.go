package security

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"

	"naming_events/pkg/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AdminClaims grant event administration. An empty Tenants list covers
// every tenant.
type AdminClaims struct {
	Tenants []string `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims cover tenantID
func (c *AdminClaims) Allows(tenantID string) bool {
	return len(c.Tenants) == 0 || slices.Contains(c.Tenants, tenantID)
}

// Token is a signed admin token
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    *AdminClaims
}

// TokenManager issues and checks HS256 admin tokens
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokenManager returns nil when no secret is configured
func NewTokenManager(cfg config.SecurityConfig, clock clockwork.Clock) *TokenManager {
	if cfg.AdminSecret == "" {
		return nil
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{
		secret: []byte(cfg.AdminSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		clock:  clock,
	}
}

// Issue signs a token for subject. ttl of zero uses the configured one.
func (m *TokenManager) Issue(subject string, tenants []string, ttl time.Duration) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if ttl == 0 {
		ttl = m.ttl
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl cannot be negative")
	}

	now := m.clock.Now().Truncate(time.Second)
	claims := &AdminClaims{
		Tenants: tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Token{
		Value:     signed,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Claims:    claims,
	}, nil
}

// Validate parses a token and checks its signature, issuer and expiry
func (m *TokenManager) Validate(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.VerifyIssuer(m.issuer, m.issuer != "") {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
