package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// TokenKind discriminates access from refresh tokens so one can never
// be replayed as the other.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the JWT payload carried by both token kinds.
type Claims struct {
	Kind  TokenKind `json:"kind"`
	Roles []string  `json:"roles"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Minter signs and verifies HS256 token pairs.
type Minter struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewMinter constructs a Minter with the two symmetric secrets.
func NewMinter(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Minter {
	return &Minter{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// SetNowFunc overrides the time source for tests.
func (m *Minter) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
}

// Mint issues an access and refresh token pair for a user.
func (m *Minter) Mint(user *models.User) (*TokenPair, error) {
	access, err := m.sign(user, TokenAccess, m.accessSecret, m.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(user, TokenRefresh, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Minter) sign(user *models.User, kind TokenKind, secret []byte, ttl time.Duration) (string, error) {
	now := m.now().UTC()
	roles := make([]string, 0, 2)
	for _, r := range user.RoleList() {
		roles = append(roles, string(r))
	}
	claims := Claims{
		Kind:  kind,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify parses and validates a token of the expected kind, returning
// the subject user id.
func (m *Minter) Verify(tokenString string, kind TokenKind) (uuid.UUID, *Claims, error) {
	secret := m.accessSecret
	if kind == TokenRefresh {
		secret = m.refreshSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }))
	if err != nil || !token.Valid {
		return uuid.Nil, nil, fault.Unauthenticated("invalid or expired token")
	}
	if claims.Kind != kind {
		return uuid.Nil, nil, fault.Unauthenticated("wrong token kind")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fault.Unauthenticated("malformed token subject")
	}
	return userID, claims, nil
}
