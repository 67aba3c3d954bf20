package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractToken_BearerHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		authz string
		want  string
	}{
		{"standard bearer", "Bearer my-token-123", "my-token-123"},
		{"lowercase bearer", "bearer my-token", "my-token"},
		{"bearer with extra spaces", "Bearer   spaced  ", "spaced"},
		{"empty bearer", "Bearer ", ""},
		{"non-bearer auth", "Basic dXNlcjpwYXNz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := http.NewRequest("GET", "/", nil)
			r.Header.Set("Authorization", tt.authz)
			got := extractToken(r)
			if got != tt.want {
				t.Fatalf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractToken_XAPITokenHeader(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Token", "  tok-456  ")
	got := extractToken(r)
	if got != "tok-456" {
		t.Fatalf("extractToken() = %q, want %q", got, "tok-456")
	}
}

func TestExtractToken_BearerTakesPrecedence(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer from-bearer")
	r.Header.Set("X-API-Token", "from-header")
	got := extractToken(r)
	if got != "from-bearer" {
		t.Fatalf("extractToken() = %q, want %q", got, "from-bearer")
	}
}

func TestExtractToken_NoHeaders(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	got := extractToken(r)
	if got != "" {
		t.Fatalf("extractToken() = %q, want empty", got)
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("secret")
	claims, err := a.Authenticate(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !claims.IsAdmin || claims.Subject != "admin" {
		t.Fatalf("claims = %#v", claims)
	}
	for _, bad := range []string{"", "secre", "secret2"} {
		if _, err := a.Authenticate(context.Background(), bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Authenticate(%q) error = %v, want ErrInvalidToken", bad, err)
		}
	}
	if _, err := NewAuthenticator("").Authenticate(context.Background(), ""); err == nil {
		t.Fatal("empty admin token should reject everything")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	e := echo.New()
	a := NewAuthenticator("secret")
	e.GET("/x", func(c echo.Context) error {
		claims, ok := GetClaims(c)
		if !ok || !claims.IsAdmin {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.NoContent(http.StatusOK)
	}, a.Middleware)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}
