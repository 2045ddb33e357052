package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/http/dto"
	"github.com/peerbay/backend/internal/middleware"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	log                 *zap.Logger
}

func NewNotificationHandler(notificationService *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService, log: log}
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	notifications, err := h.notificationService.ListForUser(c.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("list notifications failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: notifications})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid notification id"})
	}

	if err := h.notificationService.MarkRead(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
