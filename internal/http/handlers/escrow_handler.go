package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/peerbay/backend/internal/http/dto"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

// EscrowHandler exposes the scheduler's HTTP trigger. The route sits behind
// the scheduler token middleware, not user auth.
type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) ReleaseDue(c *fiber.Ctx) error {
	released, skipped, err := h.escrowService.ReleaseDue(c.Context())
	if err != nil {
		h.log.Error("release-due trigger failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.ReleaseDueResponse{Released: released, Skipped: skipped})
}
