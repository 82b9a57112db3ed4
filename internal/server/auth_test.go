package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, secret []byte, setup func(*http.Request)) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	setup(req)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := authMiddleware(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})
	return rec, handler(c)
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	secret := []byte("sekrit")
	token := signToken(t, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})

	rec, err := runAuth(t, secret, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("subject not propagated: %q", rec.Body.String())
	}
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	secret := []byte("sekrit")
	token := signToken(t, secret, jwt.MapClaims{"sub": "user-2", "exp": time.Now().Add(time.Hour).Unix()})

	rec, err := runAuth(t, secret, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "auth", Value: token})
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Body.String() != "user-2" {
		t.Fatalf("subject not propagated: %q", rec.Body.String())
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("sekrit")
	expired := signToken(t, secret, jwt.MapClaims{"sub": "user-3", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := signToken(t, []byte("other"), jwt.MapClaims{"sub": "user-4", "exp": time.Now().Add(time.Hour).Unix()})

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"missing token", func(r *http.Request) {}},
		{"expired token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }},
		{"wrong key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+wrongKey) }},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
	}
	for _, tc := range cases {
		_, err := runAuth(t, secret, tc.setup)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", tc.name, err)
		}
	}
}
