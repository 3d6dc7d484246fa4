package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var testJWT = JWTConfig{Issuer: "ehr-sim", Audience: "sandbox", SigningKey: []byte("test-secret")}

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, Subject(c.Request().Context()))
}

func serve(mw echo.MiddlewareFunc, authorization string) *httptest.ResponseRecorder {
	e := echo.New()
	e.GET("/sandbox/simulations", whoami, mw)
	req := httptest.NewRequest(http.MethodGet, "/sandbox/simulations", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func mustIssue(t *testing.T, cfg JWTConfig, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(cfg, "scheduler-1", []string{"operator"}, ttl)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return token
}

func TestJWTMiddleware(t *testing.T) {
	otherKey := testJWT
	otherKey.SigningKey = []byte("someone-else")
	otherAudience := testJWT
	otherAudience.Audience = "billing"

	tests := []struct {
		name          string
		authorization string
		status        int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong key", "Bearer " + mustIssue(t, otherKey, time.Hour), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + mustIssue(t, otherAudience, time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + mustIssue(t, testJWT, -time.Minute), http.StatusUnauthorized},
		{"valid", "Bearer " + mustIssue(t, testJWT, time.Hour), http.StatusOK},
		{"lowercase scheme", "bearer " + mustIssue(t, testJWT, time.Hour), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(JWTMiddleware(testJWT), tt.authorization)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusOK && rec.Body.String() != "scheduler-1" {
				t.Errorf("expected subject scheduler-1, got %q", rec.Body.String())
			}
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	rec := serve(DevAuthMiddleware(), "")
	if rec.Code != http.StatusOK || rec.Body.String() != DevSubject {
		t.Fatalf("expected 200 as %s, got %d %q", DevSubject, rec.Code, rec.Body.String())
	}
}

func TestIssueToken_RequiresKey(t *testing.T) {
	if _, err := IssueToken(JWTConfig{}, "x", nil, time.Hour); err == nil {
		t.Fatal("expected an error without a signing key")
	}
}
