// Package auth verifies caller identity. Every request carries an HS256 JWT
// whose role claim feeds the pipeline; the raw token doubles as the
// credential forwarded to the logistics backend.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/quayline/orchestrator/internal/models"
)

var (
	// ErrInvalidToken covers parse failures, bad signatures and expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownRole is returned when the role claim is not one of ours.
	ErrUnknownRole = errors.New("unknown role claim")
)

// UserContext is the verified identity attached to each request.
type UserContext struct {
	Subject    string
	Role       models.Role
	Credential string
}

// CustomClaims is the JWT claim set issued for chat callers.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Manager signs and validates access tokens.
type Manager struct {
	signingKey []byte
	issuer     string
	expiry     time.Duration
}

// NewManager creates a Manager.
func NewManager(signingKey, issuer string, expiry time.Duration) *Manager {
	if issuer == "" {
		issuer = "quayline"
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Manager{signingKey: []byte(signingKey), issuer: issuer, expiry: expiry}
}

// Generate issues a token for the subject and role. Used by the token
// endpoint in development setups and by tests.
func (m *Manager) Generate(subject string, role models.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// Validate parses the token and returns the caller's identity. The raw token
// is carried along as the backend credential.
func (m *Manager) Validate(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	role := models.Role(claims.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	return &UserContext{
		Subject:    claims.Subject,
		Role:       role,
		Credential: tokenString,
	}, nil
}
