package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (h *Handler) TriggerRetention(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	if h.retentionTrigger == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "retention not configured")
	}

	if !h.retentionTrigger.TriggerRun(c.Request().Context()) {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"message": "retention already running",
		})
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"ok":      true,
		"message": "retention started",
	})
}

func (h *Handler) GetRetentionStatus(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	if h.retentionTrigger == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"configured": false,
			"running":    false,
		})
	}

	status := h.retentionTrigger.Status()
	return c.JSON(http.StatusOK, map[string]any{
		"configured": true,
		"running":    status.Running,
		"lastResult": status.LastResult,
		"lastError":  status.LastError,
		"finishedAt": status.FinishedAt,
	})
}
