package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string, scope interface{}, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(expiresIn).Unix(),
		"iat": time.Now().Unix(),
	}
	if scope != nil {
		claims["scope"] = scope
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/escrows/esc-1", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func runMiddleware(auth *Authenticator, req *http.Request, scopes ...string) (*httptest.ResponseRecorder, *Principal) {
	var captured *Principal
	handler := auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	rec, _ := runMiddleware(auth, authedRequest(""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "missing bearer token", decodeErrorBody(t, rec))
}

func TestMiddlewareRejectsBadSignature(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	token := signToken(t, "some-other-secret", "buyer-1", nil, time.Hour)
	rec, _ := runMiddleware(auth, authedRequest(token))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	token := signToken(t, testSecret, "buyer-1", nil, -time.Hour)
	rec, _ := runMiddleware(auth, authedRequest(token))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareStoresPrincipal(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	token := signToken(t, testSecret, "buyer-1", "escrow.write "+ScopeAdmin, time.Hour)
	rec, principal := runMiddleware(auth, authedRequest(token))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, principal)
	require.Equal(t, "buyer-1", principal.Subject)
	require.True(t, principal.HasScope(ScopeAdmin))
	require.True(t, principal.HasScope("escrow.write"))
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)

	token := signToken(t, testSecret, "buyer-1", "escrow.write", time.Hour)
	rec, _ := runMiddleware(auth, authedRequest(token), ScopeAdmin)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "insufficient scope", decodeErrorBody(t, rec))

	admin := signToken(t, testSecret, "ops-1", []interface{}{ScopeAdmin}, time.Hour)
	rec, principal := runMiddleware(auth, authedRequest(admin), ScopeAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, principal.HasScope(ScopeAdmin))
}

func TestVerifyRequiresSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	token := signToken(t, testSecret, "", nil, time.Hour)
	_, err := auth.Verify(token)
	require.Error(t, err)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "tesseracts"}, nil)
	token := signToken(t, testSecret, "buyer-1", nil, time.Hour)
	_, err := auth.Verify(token)
	require.Error(t, err)
}
