// Package auth guards the admin API with a static token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var ErrInvalidToken = errors.New("invalid API token")

type Claims struct {
	Subject string
	IsAdmin bool
}

const claimsContextKey = "auth_claims"

type Authenticator struct {
	adminToken string
}

func NewAuthenticator(adminToken string) *Authenticator {
	return &Authenticator{adminToken: adminToken}
}

func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}

		claims, err := a.Authenticate(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API token")
		}
		c.Set(claimsContextKey, claims)

		return next(c)
	}
}

func (a *Authenticator) Authenticate(_ context.Context, token string) (Claims, error) {
	if a.adminToken == "" || token == "" {
		return Claims{}, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: "admin", IsAdmin: true}, nil
}

func GetClaims(c echo.Context) (Claims, bool) {
	raw := c.Get(claimsContextKey)
	if raw == nil {
		return Claims{}, false
	}
	claims, ok := raw.(Claims)
	return claims, ok
}

func extractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}
