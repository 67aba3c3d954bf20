// Package httpapi serves the admin HTTP API next to the gRPC service.
package httpapi

import (
	"backupd/internal/auth"
	"backupd/internal/backup"
	"backupd/internal/config"
	"backupd/internal/httpapi/handlers"
	"backupd/internal/httpapi/middlewares"
	"backupd/internal/retention"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type API struct {
	cfg     config.Config
	auth    *auth.Authenticator
	handler *handlers.Handler
}

func New(cfg config.Config, svc *backup.Service, authn *auth.Authenticator, trigger *retention.Trigger) *API {
	h := handlers.New(svc)
	if trigger != nil {
		h.SetRetentionTrigger(trigger)
	}
	return &API{
		cfg:     cfg,
		auth:    authn,
		handler: h,
	}
}

func (a *API) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middlewares.NewRateLimitMiddleware(a.cfg.RateLimits()))

	a.registerRoutes(e)
	return e
}
