package admin

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/gofiber/fiber/v2"
)

const entityUser = "user"

type CreateUserRequest struct {
	ID               string `json:"id"` // subject id issued by the auth provider
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	TelegramChatID   string `json:"telegram_chat_id"`
	Role             string `json:"role"`
	PreferredChannel string `json:"preferred_channel"`
}

type UpdateUserRequest struct {
	Name             *string `json:"name"`
	Email            *string `json:"email"`
	Phone            *string `json:"phone"`
	TelegramChatID   *string `json:"telegram_chat_id"`
	PreferredChannel *string `json:"preferred_channel"`
}

type UserResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	TelegramChatID   string `json:"telegram_chat_id"`
	Role             string `json:"role"`
	PreferredChannel string `json:"preferred_channel"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Phone:            u.Phone,
		TelegramChatID:   u.TelegramChatID,
		Role:             string(u.Role),
		PreferredChannel: string(u.PreferredChannel),
		CreatedAt:        u.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:        u.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// Users is the contact directory the notification dispatcher reads.
type Users struct {
	store   *store.Store
	clock   clock.Clock
	auditor *audit.Recorder
}

func NewUsers(st *store.Store, clk clock.Clock, rec *audit.Recorder) *Users {
	if clk == nil {
		clk = clock.Real()
	}
	return &Users{store: st, clock: clk, auditor: rec}
}

func parseChannel(s string) (models.NotificationChannel, error) {
	switch ch := models.NotificationChannel(strings.ToLower(strings.TrimSpace(s))); ch {
	case "":
		return models.ChannelEmail, nil
	case models.ChannelEmail, models.ChannelWhatsApp, models.ChannelTelegram:
		return ch, nil
	}
	return "", apperr.InvalidInput("unknown notification channel %q", s)
}

func validateContact(u *models.User) error {
	if strings.TrimSpace(u.Name) == "" {
		return apperr.InvalidInput("name cannot be empty")
	}
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return apperr.InvalidInput("invalid email %q", u.Email)
		}
	}
	if _, addr := u.Recipient(); addr == "" {
		return apperr.InvalidInput("no address for preferred channel %s", u.PreferredChannel)
	}
	return nil
}

// ----------------------------------------
// USER DIRECTORY
// ----------------------------------------

// POST /api/admin/users
func CreateUserHandler(us *Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		role := models.UserRole(strings.TrimSpace(body.Role))
		if !role.Valid() {
			return apperr.InvalidInput("unknown role %q", body.Role)
		}
		channel, err := parseChannel(body.PreferredChannel)
		if err != nil {
			return err
		}

		now := us.clock.Now()
		u := &models.User{
			ID:               strings.TrimSpace(body.ID),
			Name:             strings.TrimSpace(body.Name),
			Email:            strings.TrimSpace(body.Email),
			Phone:            strings.TrimSpace(body.Phone),
			TelegramChatID:   strings.TrimSpace(body.TelegramChatID),
			Role:             role,
			PreferredChannel: channel,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := validateContact(u); err != nil {
			return err
		}

		ctx := c.UserContext()
		if u.ID != "" {
			if _, err := us.store.Users.Get(ctx, u.ID); err == nil {
				return apperr.Conflict("user %s already exists", u.ID)
			} else if !errors.Is(err, store.ErrNotFound) {
				return apperr.Upstream(err, "user lookup failed")
			}
		}

		err = us.store.Transact(ctx, func(ctx context.Context) error {
			if err := us.store.Users.Create(ctx, u); err != nil {
				return err
			}
			return us.auditor.WriteLog(ctx, audit.LogOptions{
				Actor:       actor,
				EntityType:  entityUser,
				EntityID:    u.ID,
				Action:      models.AuditActionCreate,
				Description: "user added to directory: " + u.Name,
				After:       u,
			})
		})
		if err != nil {
			return apperr.Upstream(err, "user could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(toUserResponse(u))
	}
}

// GET /api/admin/users?role=waiter
func ListUsersHandler(us *Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := store.Query{}
		if role := c.Query("role"); role != "" {
			if !models.UserRole(role).Valid() {
				return apperr.InvalidInput("unknown role %q", role)
			}
			q = store.Where(store.Eq("role", role))
		}

		list, err := us.store.Users.List(c.UserContext(), q.Sorted(store.Sort{Field: "name"}))
		if err != nil {
			return apperr.Upstream(err, "users could not be listed")
		}

		resp := make([]UserResponse, 0, len(list))
		for _, u := range list {
			resp = append(resp, toUserResponse(u))
		}
		return c.JSON(resp)
	}
}

// GET /api/admin/users/:id
func GetUserHandler(us *Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := us.get(c)
		if err != nil {
			return err
		}
		return c.JSON(toUserResponse(u))
	}
}

// PUT /api/admin/users/:id
func UpdateUserHandler(us *Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := audit.ActorFrom(c)
		if err != nil {
			return err
		}

		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		u, err := us.get(c)
		if err != nil {
			return err
		}
		before := *u

		if body.Name != nil {
			u.Name = strings.TrimSpace(*body.Name)
		}
		if body.Email != nil {
			u.Email = strings.TrimSpace(*body.Email)
		}
		if body.Phone != nil {
			u.Phone = strings.TrimSpace(*body.Phone)
		}
		if body.TelegramChatID != nil {
			u.TelegramChatID = strings.TrimSpace(*body.TelegramChatID)
		}
		if body.PreferredChannel != nil {
			if u.PreferredChannel, err = parseChannel(*body.PreferredChannel); err != nil {
				return err
			}
		}
		if err := validateContact(u); err != nil {
			return err
		}
		u.UpdatedAt = us.clock.Now()

		err = us.store.Transact(c.UserContext(), func(ctx context.Context) error {
			if err := us.store.Users.Update(ctx, u); err != nil {
				return err
			}
			return us.auditor.WriteLog(ctx, audit.LogOptions{
				Actor:       actor,
				EntityType:  entityUser,
				EntityID:    u.ID,
				Action:      models.AuditActionUpdate,
				Description: "contact details updated",
				Before:      before,
				After:       u,
			})
		})
		if err != nil {
			return apperr.Upstream(err, "user could not be updated")
		}

		return c.JSON(toUserResponse(u))
	}
}

func (us *Users) get(c *fiber.Ctx) (*models.User, error) {
	id := c.Params("id")
	u, err := us.store.Users.Get(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Upstream(err, "user lookup failed")
	}
	return u, nil
}
