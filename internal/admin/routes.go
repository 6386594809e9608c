// Package admin holds the administrator-only surface: the user contact
// directory, the audit trail and the live WebSocket session list.
package admin

import (
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/realtime/hub"

	"github.com/gofiber/fiber/v2"
)

// Register mounts /admin routes on a JWT-protected group.
func Register(r fiber.Router, us *Users, rec *audit.Recorder, h *hub.Hub) {
	adminRoutes := r.Group("/admin", auth.RequireRole(models.RoleAdmin))

	adminRoutes.Post("/users", CreateUserHandler(us))
	adminRoutes.Get("/users", ListUsersHandler(us))
	adminRoutes.Get("/users/:id", GetUserHandler(us))
	adminRoutes.Put("/users/:id", UpdateUserHandler(us))

	adminRoutes.Get("/audit-logs", audit.ListAuditLogsHandler(rec))
	adminRoutes.Get("/sessions", ListSessionsHandler(h))
}
