package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route patterns that bypass bearer authentication.
var publicPaths = map[string]bool{
	"/health":                    true,
	"/health/db":                 true,
	"/api/v1/auth/register":      true,
	"/api/v1/auth/login":         true,
	"/api/v1/auth/refresh":       true,
	"/verify/prescription/:code": true,
	"/verify/lab-order/:code":    true,
	"/verify/qr/:kind/:code":     true,
}

// publicPrefixes covers routes authenticated by other means. Websocket rooms
// authenticate with the room token in the path.
var publicPrefixes = []string{"/ws/"}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether the given route pattern is public.
func IsPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
