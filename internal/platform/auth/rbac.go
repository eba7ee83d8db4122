package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Roles carried in tokens. They mirror the staff directory's roles.
const (
	RoleAdmin         = "admin"
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RoleLabTechnician = "lab_technician"
	RoleBillingClerk  = "billing_clerk"
)

// RequireRole admits callers holding at least one of roles. Admins pass every gate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == RoleAdmin {
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

// ActorID returns the acting staff member's id as a UUID.
func ActorID(ctx context.Context) (uuid.UUID, error) {
	raw := ActorFromContext(ctx)
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "no actor in request")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "actor id is not a uuid")
	}
	return id, nil
}
