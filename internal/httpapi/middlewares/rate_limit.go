package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backupd/internal/ratelimit"

	"github.com/labstack/echo/v4"
)

// NewRateLimitMiddleware limits requests per user when the route names one
// and per client address otherwise. Reads count against the pull scope.
func NewRateLimitMiddleware(cfg ratelimit.Config) echo.MiddlewareFunc {
	limiter := ratelimit.New(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope := requestScope(c.Request().Method)
			result := limiter.Take(time.Now().UTC(), scope, requestBucket(c))
			setRateLimitHeaders(c.Response().Header(), result)

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds(), 10))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}

func requestScope(method string) ratelimit.Scope {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ratelimit.ScopePull
	default:
		return ratelimit.ScopePush
	}
}

func requestBucket(c echo.Context) ratelimit.Bucket {
	if userID := strings.TrimSpace(c.Param("userID")); userID != "" {
		return ratelimit.Bucket{User: userID}
	}

	ip := strings.TrimSpace(c.RealIP())
	if ip == "" {
		ip = clientIPFromRemoteAddr(c.Request().RemoteAddr)
	}
	if ip == "" {
		ip = "unknown"
	}
	return ratelimit.Bucket{Peer: ip}
}

func setRateLimitHeaders(header http.Header, result ratelimit.Result) {
	limit := strconv.Itoa(result.Limit)
	remaining := strconv.Itoa(result.Remaining)
	resetEpoch := strconv.FormatInt(result.Reset.Unix(), 10)
	resetDelay := strconv.FormatInt(result.RetryAfterSeconds(), 10)

	header.Set("X-RateLimit-Limit", limit)
	header.Set("X-RateLimit-Remaining", remaining)
	header.Set("X-RateLimit-Reset", resetEpoch)

	header.Set("RateLimit-Limit", limit)
	header.Set("RateLimit-Remaining", remaining)
	header.Set("RateLimit-Reset", resetDelay)
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return strings.TrimSpace(host)
}
