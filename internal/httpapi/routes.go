package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (a *API) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	v1 := e.Group("/api/v1")
	a.registerBackupRoutes(v1)
	a.registerInternalRoutes(e)
}

func (a *API) registerBackupRoutes(v1 *echo.Group) {
	users := v1.Group("/users/:userID")
	users.Use(a.auth.Middleware)
	users.GET("/backups/latest", a.handler.GetLatestBackup)
	users.GET("/backups/:backupID", a.handler.GetBackup)
	users.POST("/backups/:backupID/attachments", a.handler.AddAttachments)
}

func (a *API) registerInternalRoutes(e *echo.Echo) {
	internal := e.Group("/api/internal")
	internal.Use(a.auth.Middleware)
	internal.POST("/retention/run", a.handler.TriggerRetention)
	internal.GET("/retention/status", a.handler.GetRetentionStatus)
}
