package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthorizeScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "metatx", Audience: "relayers"})
	token, err := IssueToken("secret", "metatx", "relayers", "ops", []string{ScopeRelay}, time.Minute, time.Now())
	require.NoError(t, err)

	require.NoError(t, auth.Authorize(requestWithToken(token), ScopeRelay))
	require.ErrorIs(t, auth.Authorize(requestWithToken(token), ScopeAdmin), errInsufficientScope)
	require.ErrorIs(t, auth.Authorize(requestWithToken(""), ScopeRelay), errMissingToken)
}

func TestAuthorizeRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "metatx"})
	now := time.Now()

	expired, err := IssueToken("secret", "metatx", "", "ops", []string{ScopeRelay}, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	require.ErrorIs(t, auth.Authorize(requestWithToken(expired), ScopeRelay), errInvalidToken)

	forged, err := IssueToken("other", "metatx", "", "ops", []string{ScopeRelay}, time.Minute, now)
	require.NoError(t, err)
	require.ErrorIs(t, auth.Authorize(requestWithToken(forged), ScopeRelay), errInvalidToken)

	wrongIssuer, err := IssueToken("secret", "someone-else", "", "ops", []string{ScopeRelay}, time.Minute, now)
	require.NoError(t, err)
	require.ErrorIs(t, auth.Authorize(requestWithToken(wrongIssuer), ScopeRelay), errInvalidToken)
}

func TestAuthorizeWithoutSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{})
	require.ErrorIs(t, auth.Authorize(requestWithToken("anything"), ScopeRelay), errAuthNotConfigured)

	_, err := IssueToken("", "metatx", "", "ops", nil, time.Minute, time.Now())
	require.ErrorIs(t, err, errAuthNotConfigured)
}
