package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestSessions_RoundTrip(t *testing.T) {
	s := NewSessions(testSecret, time.Hour)
	token, err := s.Issue("u1", RoleAdmin)
	require.NoError(t, err)

	p, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestSessions_DefaultRole(t *testing.T) {
	s := NewSessions(testSecret, time.Hour)
	token, err := s.Issue("u1", "")
	require.NoError(t, err)
	p, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, p.Role)
}

func TestSessions_RejectsExpired(t *testing.T) {
	s := NewSessions(testSecret, time.Minute)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := s.Issue("u1", RoleUser)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestSessions_RejectsWrongSecret(t *testing.T) {
	token, err := NewSessions(testSecret, time.Hour).Issue("u1", RoleUser)
	require.NoError(t, err)
	_, err = NewSessions("another-secret-value", time.Hour).Verify(token)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = NewSessions(testSecret, time.Hour).Verify("not.a.token")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := TokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Bearer abc")
	got, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
	got, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "cookie-token", got)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1", Role: RoleUser})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)
}
