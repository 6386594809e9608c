package admin

import (
	"sort"

	"restoran-fulfillment/internal/realtime/hub"

	"github.com/gofiber/fiber/v2"
)

type SessionsResponse struct {
	Count    int               `json:"count"`
	Sessions []hub.SessionInfo `json:"sessions"`
}

// GET /api/admin/sessions?role=kitchen
func ListSessionsHandler(h *hub.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := c.Query("role")
		list := h.Snapshot()

		out := make([]hub.SessionInfo, 0, len(list))
		for _, s := range list {
			if role != "" && string(s.Role) != role {
				continue
			}
			out = append(out, s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })

		return c.JSON(SessionsResponse{Count: len(out), Sessions: out})
	}
}
