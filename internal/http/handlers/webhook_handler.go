package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/http/dto"
	"github.com/peerbay/backend/internal/payments"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

// WebhookHandler terminates the two Stripe webhook endpoints. Each endpoint
// verifies its own signing secret against the raw body before anything is
// parsed. A handled event always answers 200 so Stripe stops redelivering;
// only a store failure returns 500 to request a retry.
type WebhookHandler struct {
	webhookService *services.WebhookService
	billingService *services.BillingService
	cfg            *config.Config
	log            *zap.Logger
}

func NewWebhookHandler(webhookService *services.WebhookService, billingService *services.BillingService, cfg *config.Config, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		billingService: billingService,
		cfg:            cfg,
		log:            log,
	}
}

func (h *WebhookHandler) StripeOrders(c *fiber.Ctx) error {
	event, err := payments.ParseEvent(c.Body(), c.Get("Stripe-Signature"), h.cfg.StripeOrderWebhookSecret)
	if err != nil {
		h.log.Warn("order webhook signature verification failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	if err := h.webhookService.HandleOrderEvent(c.Context(), event); err != nil {
		h.log.Error("order webhook processing failed",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "processing failed"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *WebhookHandler) StripeBilling(c *fiber.Ctx) error {
	event, err := payments.ParseEvent(c.Body(), c.Get("Stripe-Signature"), h.cfg.StripeBillingWebhookSecret)
	if err != nil {
		h.log.Warn("billing webhook signature verification failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	if err := h.billingService.HandleBillingEvent(c.Context(), event); err != nil {
		h.log.Error("billing webhook processing failed",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "processing failed"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
