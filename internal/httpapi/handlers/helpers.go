package handlers

import (
	"errors"
	"net/http"
	"strings"

	"backupd/internal/auth"
	"backupd/internal/backup"
	"backupd/internal/store"

	"github.com/labstack/echo/v4"
)

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, backup.ErrProtocol):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, backup.ErrNotFound), store.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, backup.ErrUpstream):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) requireAdmin(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !claims.IsAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "admin only")
	}
	return nil
}

func pathParam(c echo.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
