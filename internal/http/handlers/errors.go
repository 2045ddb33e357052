package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/peerbay/backend/internal/http/dto"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

// respondServiceError maps the service error taxonomy onto HTTP statuses.
// Anything outside the taxonomy is an internal error and gets logged with
// its cause; the client only sees a generic message.
func respondServiceError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var status int
	switch {
	case errors.Is(err, services.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrUpstream):
		status = fiber.StatusBadGateway
	default:
		log.Error("unhandled service error", zap.Error(err), zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	var se *services.Error
	msg := err.Error()
	if errors.As(err, &se) {
		msg = se.Msg
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg})
}
