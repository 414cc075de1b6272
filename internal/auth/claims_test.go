package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "tracker.identity"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "identity-service",
		"iss":    "tracker.identity",
		"scopes": []string{ScopeInboxWrite, ScopeInboxRead},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}, testConfig.Secret)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "identity-service", claims.Subject)
	require.True(t, claims.HasScope(ScopeInboxWrite))
	require.True(t, claims.HasScope(ScopeInboxRead))
	require.False(t, claims.HasScope("admin"))
	require.False(t, claims.ExpiresAt.IsZero())
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "identity-service",
		"iss":    "tracker.identity",
		"scopes": "inbox:write inbox:read",
	}, testConfig.Secret)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeInboxWrite))
	require.True(t, claims.HasScope(ScopeInboxRead))
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse("not.a.jwt", testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongSecret := signToken(t, jwt.MapClaims{
		"sub": "x", "iss": "tracker.identity",
	}, "other-secret")
	_, err = Parse(wrongSecret, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "x", "iss": "someone-else",
	}, testConfig.Secret)
	_, err = Parse(wrongIssuer, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject := signToken(t, jwt.MapClaims{
		"iss": "tracker.identity",
	}, testConfig.Secret)
	_, err = Parse(noSubject, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := signToken(t, jwt.MapClaims{
		"sub": "x", "iss": "tracker.identity",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testConfig.Secret)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "identity-service",
		"iss":    "tracker.identity",
		"scopes": []string{ScopeInboxWrite},
	}, testConfig.Secret)

	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	mw := NewMiddleware(testConfig)
	req := httptest.NewRequest(http.MethodPost, "/tracker/inbox/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, "identity-service", seen.Subject)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := NewMiddleware(testConfig)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/tracker/inbox/", nil)
	rr := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareSkipsHealthAndMetrics(t *testing.T) {
	mw := NewMiddleware(testConfig)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		mw.Wrap(next).ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, path)
	}
}
