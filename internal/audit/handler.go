package audit

import (
	"restoran-fulfillment/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// ActorFrom builds the audit actor from the identity JWTMiddleware stored.
func ActorFrom(c *fiber.Ctx) (Actor, error) {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: id.SubjectID, Role: id.Role}, nil
}

type AuditLogResponse struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"created_at"`
	ActorID     string `json:"actor_id"`
	ActorRole   string `json:"actor_role"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Action      string `json:"action"`
	Description string `json:"description"`
	BeforeData  string `json:"before_data"`
	AfterData   string `json:"after_data"`
}

// GET /api/admin/audit-logs?entity_type=order&entity_id=...&actor_id=...&limit=100
func ListAuditLogsHandler(r *Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 200)
		if limit <= 0 || limit > 1000 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}

		logs, err := r.List(c.UserContext(), Filter{
			EntityType: c.Query("entity_type"),
			EntityID:   c.Query("entity_id"),
			ActorID:    c.Query("actor_id"),
			Limit:      limit,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "audit logs could not be listed")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, log := range logs {
			resp = append(resp, AuditLogResponse{
				ID:          log.ID,
				CreatedAt:   log.CreatedAt.Format("2006-01-02 15:04:05"),
				ActorID:     log.ActorID,
				ActorRole:   string(log.ActorRole),
				EntityType:  log.EntityType,
				EntityID:    log.EntityID,
				Action:      string(log.Action),
				Description: log.Description,
				BeforeData:  log.BeforeData,
				AfterData:   log.AfterData,
			})
		}

		return c.JSON(resp)
	}
}
