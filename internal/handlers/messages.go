package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/message"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/store"
)

// MessageHandler serves conversation history, operator replies and media
// bodies.
type MessageHandler struct {
	service *message.Service
	gateway realtime.Gateway
	logger  *slog.Logger
}

func NewMessageHandler(log *slog.Logger, service *message.Service, gateway realtime.Gateway) *MessageHandler {
	return &MessageHandler{
		service: service,
		gateway: gateway,
		logger:  log.With(slog.String("handler", "messages")),
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	e.GET("/api/conversations/:id/messages", h.List)
	e.POST("/api/conversations/:id/messages", h.Send)
	e.GET("/api/messages/:id/media", h.Media)
}

func (h *MessageHandler) List(c echo.Context) error {
	messages, err := h.service.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, messages)
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Send(c echo.Context) error {
	operatorID, err := auth.OperatorIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	sent, err := h.service.Send(c.Request().Context(), operatorID, c.Param("id"), req.Content)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, message.ErrConversationClosed):
		return echo.NewHTTPError(http.StatusConflict, "conversation is closed")
	case errors.Is(err, message.ErrInstanceInactive):
		return echo.NewHTTPError(http.StatusConflict, "service instance is inactive")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	h.gateway.EmitNewMessage(sent.ConversationID, sent)
	return c.JSON(http.StatusCreated, sent)
}

// Media streams a message's media body with its stored content type.
func (h *MessageHandler) Media(c echo.Context) error {
	content, err := h.service.OpenMedia(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, message.ErrNoMedia) {
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	defer content.Body.Close()

	if content.FileName != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+content.FileName+`"`)
	}
	mime := content.Mime
	if mime == "" {
		mime = echo.MIMEOctetStream
	}
	return c.Stream(http.StatusOK, mime, content.Body)
}
