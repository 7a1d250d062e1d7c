package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "ledgerbook_session"

// Role gates the admin routes.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID with role.
func (s *Sessions) Issue(userID string, role Role) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("Issue: user ID is required")
	}
	if role == "" {
		role = RoleUser
	}
	now := s.now()
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["user_id"] = userID
	claims["role"] = string(role)
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(s.ttl).Unix()
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("Issue: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its principal. Any failure is domain.ErrUnauthorized.
func (s *Sessions) Verify(raw string) (Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, domain.ErrUnauthorized
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return Principal{}, domain.ErrUnauthorized
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(RoleUser)
	}
	return Principal{UserID: userID, Role: Role(role)}, nil
}

// TokenFromRequest reads the session cookie, falling back to a Bearer header.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token), nil
	}
	return "", errors.New("no session token")
}
