package auth

import (
	"strings"

	"restoran-fulfillment/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxSubjectIDKey = "subject_id"
	CtxUserRoleKey  = "user_role"
	CtxStationKey   = "station"
)

func JWTMiddleware(v Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization must be 'Bearer <token>'")
		}

		id, err := v.Validate(parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(CtxSubjectIDKey, id.SubjectID)
		c.Locals(CtxUserRoleKey, id.Role)
		c.Locals(CtxStationKey, id.Station)

		return c.Next()
	}
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "role missing from token")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "not allowed for this role")
	}
}

// CurrentIdentity reads what JWTMiddleware stored on the request.
func CurrentIdentity(c *fiber.Ctx) (Identity, error) {
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "role missing from token")
	}
	subject, _ := c.Locals(CtxSubjectIDKey).(string)
	station, _ := c.Locals(CtxStationKey).(string)
	return Identity{SubjectID: subject, Role: role, Station: station}, nil
}
