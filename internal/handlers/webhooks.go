package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/media"
	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/meta"
)

// maxWebhookBody caps how much of a delivery we are willing to read.
const maxWebhookBody = 4 << 20

// Ingestor is the pipeline webhook deliveries feed into.
type Ingestor interface {
	Process(ctx context.Context, kind provider.Kind, payload []byte) error
}

// WebhookHandler terminates provider callbacks. Every POST is acknowledged
// with 200 no matter what happened inside: providers retry failed
// deliveries aggressively, and a payload that failed once will fail
// identically on redelivery.
type WebhookHandler struct {
	ingest          Ingestor
	metaVerifyToken string
	logger          *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, ingest Ingestor, metaVerifyToken string) *WebhookHandler {
	return &WebhookHandler{
		ingest:          ingest,
		metaVerifyToken: metaVerifyToken,
		logger:          log.With(slog.String("handler", "webhooks")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/evolution", h.Evolution)
	e.POST("/webhooks/meta", h.Meta)
	e.GET("/webhooks/meta", h.MetaVerify)
}

func (h *WebhookHandler) Evolution(c echo.Context) error {
	return h.accept(c, provider.KindEvolution)
}

func (h *WebhookHandler) Meta(c echo.Context) error {
	return h.accept(c, provider.KindMeta)
}

func (h *WebhookHandler) accept(c echo.Context, kind provider.Kind) error {
	payload, err := media.ReadAllWithLimit(c.Request().Body, maxWebhookBody)
	if err != nil {
		h.logger.Warn("webhook body unreadable",
			slog.String("provider", string(kind)),
			slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if err := h.ingest.Process(c.Request().Context(), kind, payload); err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("provider", string(kind)),
			slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// MetaVerify answers the subscription handshake Meta performs when the
// webhook URL is registered.
func (h *WebhookHandler) MetaVerify(c echo.Context) error {
	challenge, err := meta.VerifySubscription(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
		h.metaVerifyToken,
	)
	if err != nil {
		h.logger.Warn("meta subscription handshake rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}
