package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})(c)
	return c, called, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func validClaims(subject string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	if called {
		t.Error("handler should not be called")
	}
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{RoleDoctor},
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	c, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
	caller, ok := CallerFrom(c.Request().Context())
	if !ok || caller.UserID != "user-123" {
		t.Errorf("expected caller user-123, got %+v", caller)
	}
	if len(caller.Roles) != 1 || caller.Roles[0] != RoleDoctor {
		t.Errorf("unexpected roles: %v", caller.Roles)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tokenStr := createTestToken(t, claims, testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := validClaims("u", RoleDoctor)
	tokenStr := createTestToken(t, claims, []byte("another-key"))
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := validClaims("u", RoleDoctor)
	claims.Issuer = "https://other"
	tokenStr := createTestToken(t, claims, testSigningKey)
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://clinic"}
	_, _, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+tokenStr)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	c, called, err := runMiddleware(t, DevAuthMiddleware(), "")
	if err != nil || !called {
		t.Fatalf("expected pass-through, err=%v called=%v", err, called)
	}
	if got := UserIDFromContext(c.Request().Context()); got != "dev-user" {
		t.Errorf("expected dev-user, got %q", got)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"matching role", []string{RoleReceptionist}, true},
		{"admin bypass", []string{RoleAdmin}, true},
		{"wrong role", []string{RoleAccountant}, false},
		{"no roles", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithCaller(req.Context(), Caller{UserID: "u", Roles: tt.roles}))
			c := e.NewContext(req, httptest.NewRecorder())

			called := false
			err := RequireRole(RoleReceptionist, RoleDoctor)(func(echo.Context) error {
				called = true
				return nil
			})(c)
			if called != tt.want {
				t.Errorf("called = %v, want %v", called, tt.want)
			}
			if !tt.want {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestJWTMiddleware_NoClinicRole(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-1", "billing-app"), testSigningKey)
	_, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if called {
		t.Error("handler should not be called")
	}
	expectStatus(t, err, http.StatusForbidden)
}

func TestJWTMiddleware_NormalizesRoles(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-1", " Receptionist", "billing-app", "receptionist"), testSigningKey)
	c, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caller, _ := CallerFrom(c.Request().Context())
	if len(caller.Roles) != 1 || caller.Roles[0] != RoleReceptionist {
		t.Errorf("expected [receptionist], got %v", caller.Roles)
	}
}

func TestJWTMiddleware_RequiresSubjectAndExpiry(t *testing.T) {
	noSubject := createTestToken(t, validClaims("", RoleDoctor), testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+noSubject)
	expectStatus(t, err, http.StatusUnauthorized)

	noExpiry := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, Roles: []string{RoleDoctor}}, testSigningKey)
	_, _, err = runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+noExpiry)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestCaller_AdminHoldsEveryRole(t *testing.T) {
	admin := Caller{UserID: "a", Roles: []string{RoleAdmin}}
	if !admin.Has(RoleAccountant) || !admin.Has(RoleDoctor) {
		t.Error("expected admin to hold every role")
	}
	doctor := Caller{UserID: "d", Roles: []string{RoleDoctor}}
	if doctor.Has(RoleAccountant) {
		t.Error("expected doctor not to hold accountant")
	}
}

func TestUserIDFromContext_Anonymous(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
}
