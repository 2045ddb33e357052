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

type TransactionHandler struct {
	txService *services.TransactionService
	log       *zap.Logger
}

func NewTransactionHandler(txService *services.TransactionService, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{txService: txService, log: log}
}

func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	t, err := h.txService.Get(c.Context(), id, middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransactionHandler) ListTransactions(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	role := c.Query("role", "buyer")
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
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}

	txs, err := h.txService.List(c.Context(), userID, role, status, limit, offset)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *TransactionHandler) GetTransactionEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

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

	events, err := h.txService.GetEvents(c.Context(), id, middleware.GetUserID(c), middleware.GetIsAdmin(c), limit, offset)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}

func (h *TransactionHandler) Ship(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.ShipRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.txService.Ship(c.Context(), id, middleware.GetUserID(c), req.TrackingNumber, req.Carrier)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransactionHandler) ConfirmDelivery(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	t, err := h.txService.ConfirmDelivery(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransactionHandler) OpenDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.DisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.txService.OpenDispute(c.Context(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransactionHandler) RequestRefund(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	t, err := h.txService.RequestRefund(c.Context(), id, middleware.GetUserID(c), req.Amount, req.Reason)
	if err != nil {
		return respondServiceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}
