package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RolePatient     = "patient"
	RoleDoctor      = "doctor"
	RoleCenterAdmin = "center_admin"
	RoleSystemAdmin = "system_admin"
)

var validRoles = map[string]bool{
	RolePatient:     true,
	RoleDoctor:      true,
	RoleCenterAdmin: true,
	RoleSystemAdmin: true,
}

func ValidRole(role string) bool { return validRoles[role] }

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// System administrators pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			if len(userRoles) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, has := range userRoles {
				if has == RoleSystemAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
