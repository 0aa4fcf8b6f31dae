package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response headers for a JSON API that serves clinical
// data. Camera and microphone stay allowed for the same origin so the video
// client served alongside the API can request them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(self), microphone=(self), geolocation=()")

			// Public verification pages may be cached briefly; everything else
			// can carry patient data.
			if strings.HasPrefix(c.Request().URL.Path, "/verify/") {
				h.Set("Cache-Control", "public, max-age=60")
			} else {
				h.Set("Cache-Control", "no-store")
			}

			return next(c)
		}
	}
}
