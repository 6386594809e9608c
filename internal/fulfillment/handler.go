package fulfillment

import (
	"strings"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/models"

	"github.com/gofiber/fiber/v2"
)

type StatusRequest struct {
	Status string `json:"status"`
}

type StationRequest struct {
	Station string `json:"station"`
}

// ownsOrder hides other customers' orders behind a 404.
func ownsOrder(id auth.Identity, o *models.Order) error {
	if id.Role == models.RoleCustomer && o.CustomerID != id.SubjectID {
		return apperr.NotFound("order %s not found", o.ID)
	}
	return nil
}

// POST /api/orders
func CreateOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		var body CreateOrderInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		switch id.Role {
		case models.RoleCustomer:
			// customers order for themselves and cannot pick a waiter
			body.CustomerID = id.SubjectID
			body.WaiterID = nil
		case models.RoleWaiter:
			if body.WaiterID == nil {
				body.WaiterID = &id.SubjectID
			}
		}

		order, err := svc.CreateOrder(c.UserContext(), body, audit.Actor{ID: id.SubjectID, Role: id.Role})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(order)
	}
}

// GET /api/orders?status=pending,confirmed&type=dine_in&customer_id=&waiter_id=&limit=
func ListOrdersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		f := OrderFilter{
			Type:       models.OrderType(c.Query("type")),
			CustomerID: c.Query("customer_id"),
			WaiterID:   c.Query("waiter_id"),
			Limit:      c.QueryInt("limit", 100),
		}
		if f.Type != "" && !f.Type.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "unknown order type")
		}
		if raw := c.Query("status"); raw != "" {
			for _, st := range strings.Split(raw, ",") {
				f.Statuses = append(f.Statuses, models.OrderStatus(strings.TrimSpace(st)))
			}
		}
		if id.Role == models.RoleCustomer {
			f.CustomerID = id.SubjectID
		}

		orders, err := svc.ListOrders(c.UserContext(), f)
		if err != nil {
			return err
		}
		return c.JSON(orders)
	}
}

// GET /api/orders/:id
func GetOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		order, err := svc.GetOrder(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		if err := ownsOrder(id, order); err != nil {
			return err
		}
		return c.JSON(order)
	}
}

// PATCH /api/orders/:id/status
func UpdateOrderStatusHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body StatusRequest
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status is required")
		}

		order, err := svc.UpdateOrderStatus(c.UserContext(), c.Params("id"), models.OrderStatus(body.Status), actor)
		if err != nil {
			return err
		}
		return c.JSON(order)
	}
}

// POST /api/orders/:id/cancel
func CancelOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		if id.Role == models.RoleCustomer {
			current, err := svc.GetOrder(c.UserContext(), c.Params("id"))
			if err != nil {
				return err
			}
			if err := ownsOrder(id, current); err != nil {
				return err
			}
		}

		order, err := svc.CancelOrder(c.UserContext(), c.Params("id"), audit.Actor{ID: id.SubjectID, Role: id.Role})
		if err != nil {
			return err
		}
		return c.JSON(order)
	}
}

// PATCH /api/order-items/:id/status
func UpdateItemStatusHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body StatusRequest
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status is required")
		}

		item, err := svc.UpdateItemStatus(c.UserContext(), c.Params("id"), models.ItemStatus(body.Status), actor)
		if err != nil {
			return err
		}
		return c.JSON(item)
	}
}

// GET /api/kitchen/queue?station=grill&status=queued,preparing
// A kitchen token scoped to a station sees that station unless it asks for
// another one explicitly.
func QueueHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		f := QueueFilter{Station: c.Query("station")}
		if f.Station == "" && id.Role == models.RoleKitchen {
			f.Station = id.Station
		}
		if raw := c.Query("status"); raw != "" {
			for _, st := range strings.Split(raw, ",") {
				f.Statuses = append(f.Statuses, models.QueueStatus(strings.TrimSpace(st)))
			}
		}

		list, err := svc.Queue(c.UserContext(), f)
		if err != nil {
			return err
		}
		return c.JSON(list)
	}
}

// GET /api/kitchen/stats
func StatsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, err := svc.Stats(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(st)
	}
}

// POST /api/kitchen/queue/:id/start
func StartEntryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}
		entry, err := svc.StartEntry(c.UserContext(), c.Params("id"), actor)
		if err != nil {
			return err
		}
		return c.JSON(entry)
	}
}

// POST /api/kitchen/queue/:id/complete
func CompleteEntryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}
		entry, err := svc.CompleteEntry(c.UserContext(), c.Params("id"), actor)
		if err != nil {
			return err
		}
		return c.JSON(entry)
	}
}

// PATCH /api/kitchen/queue/:id/station
func AssignStationHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body StationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		entry, err := svc.AssignStation(c.UserContext(), c.Params("id"), body.Station, actor)
		if err != nil {
			return err
		}
		return c.JSON(entry)
	}
}

// Register mounts the order and kitchen routes on a JWT-protected group.
func Register(r fiber.Router, svc *Service) {
	staff := auth.RequireRole(models.RoleWaiter, models.RoleAdmin)
	kitchen := auth.RequireRole(models.RoleKitchen, models.RoleAdmin)

	r.Post("/orders", auth.RequireRole(models.RoleCustomer, models.RoleWaiter, models.RoleAdmin), CreateOrderHandler(svc))
	r.Get("/orders", ListOrdersHandler(svc))
	r.Get("/orders/:id", GetOrderHandler(svc))
	r.Patch("/orders/:id/status", staff, UpdateOrderStatusHandler(svc))
	r.Post("/orders/:id/cancel", auth.RequireRole(models.RoleCustomer, models.RoleWaiter, models.RoleAdmin), CancelOrderHandler(svc))
	r.Patch("/order-items/:id/status", auth.RequireRole(models.RoleWaiter, models.RoleKitchen, models.RoleAdmin), UpdateItemStatusHandler(svc))

	r.Get("/kitchen/queue", auth.RequireRole(models.RoleKitchen, models.RoleWaiter, models.RoleAdmin), QueueHandler(svc))
	r.Get("/kitchen/stats", kitchen, StatsHandler(svc))
	r.Post("/kitchen/queue/:id/start", kitchen, StartEntryHandler(svc))
	r.Post("/kitchen/queue/:id/complete", kitchen, CompleteEntryHandler(svc))
	r.Patch("/kitchen/queue/:id/station", kitchen, AssignStationHandler(svc))
}
