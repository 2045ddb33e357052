package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/http/dto"
	"github.com/peerbay/backend/internal/middleware"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

type ReturnHandler struct {
	returnService *services.ReturnService
	log           *zap.Logger
}

func NewReturnHandler(returnService *services.ReturnService, log *zap.Logger) *ReturnHandler {
	return &ReturnHandler{returnService: returnService, log: log}
}

func (h *ReturnHandler) RequestReturn(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.ReturnRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.returnService.Request(c.Context(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *ReturnHandler) ApproveReturn(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	t, err := h.returnService.Approve(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *ReturnHandler) RejectReturn(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.RejectReturnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.returnService.Reject(c.Context(), id, middleware.GetUserID(c), req.RejectionReason)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *ReturnHandler) ShipReturn(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.ShipReturnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.returnService.Ship(c.Context(), id, middleware.GetUserID(c), req.TrackingNumber, req.Carrier)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *ReturnHandler) ConfirmReturnReceived(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	t, err := h.returnService.ConfirmReceived(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}
