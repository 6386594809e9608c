package tables

import (
	"strings"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/models"

	"github.com/gofiber/fiber/v2"
)

type AssignOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ConfirmReservationRequest struct {
	TableID string `json:"table_id"`
}

type TableStatusRequest struct {
	Status string `json:"status"`
}

// ----------------------------------------
// TABLES
// ----------------------------------------

// POST /api/admin/tables
func CreateTableHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body CreateTableInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		tb, err := co.CreateTable(c.UserContext(), body, actor)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(tb)
	}
}

// GET /api/tables?status=available
func ListTablesHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := co.ListTables(c.UserContext(), models.TableStatus(c.Query("status")))
		if err != nil {
			return err
		}
		return c.JSON(list)
	}
}

// GET /api/tables/:id
func GetTableHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tb, err := co.GetTable(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(tb)
	}
}

// POST /api/tables/:id/assign-order
func AssignOrderHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body AssignOrderRequest
		if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.OrderID) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "order_id is required")
		}

		tb, err := co.AssignOrderToTable(c.UserContext(), c.Params("id"), body.OrderID, actor)
		if err != nil {
			return err
		}
		return c.JSON(tb)
	}
}

// POST /api/tables/:id/release
func ReleaseTableHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}
		tb, err := co.ReleaseTable(c.UserContext(), c.Params("id"), actor)
		if err != nil {
			return err
		}
		return c.JSON(tb)
	}
}

// PATCH /api/tables/:id/status
func SetTableStatusHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body TableStatusRequest
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status is required")
		}

		tb, err := co.SetTableStatus(c.UserContext(), c.Params("id"), models.TableStatus(body.Status), actor)
		if err != nil {
			return err
		}
		return c.JSON(tb)
	}
}

// ----------------------------------------
// RESERVATIONS
// ----------------------------------------

// ownsReservation hides other customers' reservations behind a 404.
func ownsReservation(id auth.Identity, r *models.Reservation) error {
	if id.Role == models.RoleCustomer && r.CustomerID != id.SubjectID {
		return apperr.NotFound("reservation %s not found", r.ID)
	}
	return nil
}

// POST /api/reservations
func CreateReservationHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		var body CreateReservationInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if id.Role == models.RoleCustomer {
			body.CustomerID = id.SubjectID
		}

		r, err := co.CreateReservation(c.UserContext(), body, audit.Actor{ID: id.SubjectID, Role: id.Role})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(r)
	}
}

// GET /api/reservations?status=pending,confirmed&customer_id=&table_id=&limit=
func ListReservationsHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		f := ReservationFilter{
			CustomerID: c.Query("customer_id"),
			TableID:    c.Query("table_id"),
			Limit:      c.QueryInt("limit", 100),
		}
		if raw := c.Query("status"); raw != "" {
			for _, st := range strings.Split(raw, ",") {
				f.Statuses = append(f.Statuses, models.ReservationStatus(strings.TrimSpace(st)))
			}
		}
		if id.Role == models.RoleCustomer {
			f.CustomerID = id.SubjectID
		}

		list, err := co.ListReservations(c.UserContext(), f)
		if err != nil {
			return err
		}
		return c.JSON(list)
	}
}

// GET /api/reservations/:id
func GetReservationHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		r, err := co.GetReservation(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		if err := ownsReservation(id, r); err != nil {
			return err
		}
		return c.JSON(r)
	}
}

// POST /api/reservations/:id/confirm
func ConfirmReservationHandler(co *Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body ConfirmReservationRequest
		if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.TableID) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "table_id is required")
		}

		r, err := co.AssignReservationToTable(c.UserContext(), c.Params("id"), body.TableID, actor)
		if err != nil {
			return err
		}
		return c.JSON(r)
	}
}

// reservationTransition adapts the id-only reservation operations.
func reservationTransition(op func(c *fiber.Ctx, id string, actor audit.Actor) (*models.Reservation, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}
		r, err := op(c, c.Params("id"), actor)
		if err != nil {
			return err
		}
		return c.JSON(r)
	}
}

// POST /api/reservations/:id/activate
func ActivateReservationHandler(co *Coordinator) fiber.Handler {
	return reservationTransition(func(c *fiber.Ctx, id string, actor audit.Actor) (*models.Reservation, error) {
		return co.ActivateReservation(c.UserContext(), id, actor)
	})
}

// POST /api/reservations/:id/complete
func CompleteReservationHandler(co *Coordinator) fiber.Handler {
	return reservationTransition(func(c *fiber.Ctx, id string, actor audit.Actor) (*models.Reservation, error) {
		return co.CompleteReservation(c.UserContext(), id, actor)
	})
}

// POST /api/reservations/:id/no-show
func NoShowHandler(co *Coordinator) fiber.Handler {
	return reservationTransition(func(c *fiber.Ctx, id string, actor audit.Actor) (*models.Reservation, error) {
		return co.MarkNoShow(c.UserContext(), id, actor)
	})
}

// POST /api/reservations/:id/cancel
// Customers may cancel their own reservations.
func CancelReservationHandler(co *Coordinator) fiber.Handler {
	return reservationTransition(func(c *fiber.Ctx, id string, actor audit.Actor) (*models.Reservation, error) {
		if actor.Role == models.RoleCustomer {
			r, err := co.GetReservation(c.UserContext(), id)
			if err != nil {
				return nil, err
			}
			if err := ownsReservation(auth.Identity{SubjectID: actor.ID, Role: actor.Role}, r); err != nil {
				return nil, err
			}
		}
		return co.CancelReservation(c.UserContext(), id, actor)
	})
}

// Register mounts the table and reservation routes on a JWT-protected group.
func Register(r fiber.Router, co *Coordinator) {
	staff := auth.RequireRole(models.RoleWaiter, models.RoleAdmin)
	anyone := auth.RequireRole(models.RoleCustomer, models.RoleWaiter, models.RoleAdmin)

	r.Post("/admin/tables", auth.RequireRole(models.RoleAdmin), CreateTableHandler(co))
	r.Get("/tables", staff, ListTablesHandler(co))
	r.Get("/tables/:id", staff, GetTableHandler(co))
	r.Post("/tables/:id/assign-order", staff, AssignOrderHandler(co))
	r.Post("/tables/:id/release", staff, ReleaseTableHandler(co))
	r.Patch("/tables/:id/status", staff, SetTableStatusHandler(co))

	r.Post("/reservations", anyone, CreateReservationHandler(co))
	r.Get("/reservations", anyone, ListReservationsHandler(co))
	r.Get("/reservations/:id", anyone, GetReservationHandler(co))
	r.Post("/reservations/:id/confirm", staff, ConfirmReservationHandler(co))
	r.Post("/reservations/:id/activate", staff, ActivateReservationHandler(co))
	r.Post("/reservations/:id/complete", staff, CompleteReservationHandler(co))
	r.Post("/reservations/:id/cancel", anyone, CancelReservationHandler(co))
	r.Post("/reservations/:id/no-show", staff, NoShowHandler(co))
}
