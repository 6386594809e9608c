package apperr

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindInvalidTransition   Kind = "invalid_transition"
	KindInvalidState        Kind = "invalid_state"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInvalidInput        Kind = "invalid_input"
	KindDisconnected        Kind = "disconnected"
)

// Error is the stable, user-visible failure of a rejected mutation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, apperr.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrDisconnected        = &Error{Kind: KindDisconnected}
)

func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a record store or sink failure. The mutation was not applied.
func Upstream(err error, format string, args ...any) error {
	return &Error{Kind: KindUpstreamUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a kind to the status code the API answers with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidTransition, KindInvalidState, KindConflict:
		return fiber.StatusConflict
	case KindNotFound:
		return fiber.StatusNotFound
	case KindUpstreamUnavailable:
		return fiber.StatusServiceUnavailable
	case KindInvalidInput:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// Disconnected is surfaced by a client channel that gave up reconnecting.
func Disconnected(err error, format string, args ...any) error {
	return &Error{Kind: KindDisconnected, Message: fmt.Sprintf(format, args...), Err: err}
}

// FiberErrorHandler renders errors as {"error": message, "code": kind}.
// fiber.Error keeps its own status; anything unclassified is a 500.
func FiberErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
			})
		}

		var ae *Error
		if errors.As(err, &ae) {
			msg := ae.Message
			if msg == "" {
				msg = string(ae.Kind)
			}
			status := HTTPStatus(ae.Kind)
			if status >= fiber.StatusInternalServerError {
				logger.Error("request_failed", "method", c.Method(), "path", c.Path(), "error", err)
			}
			return c.Status(status).JSON(fiber.Map{
				"error": msg,
				"code":  ae.Kind,
			})
		}

		logger.Error("unexpected_error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unexpected server error",
		})
	}
}
