package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/conversation"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/store"
)

// ConversationHandler serves the desk's conversation views and actions.
type ConversationHandler struct {
	service *conversation.Service
	logger  *slog.Logger
}

func NewConversationHandler(log *slog.Logger, service *conversation.Service) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		logger:  log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	group := e.Group("/api/conversations")
	group.GET("/queue", h.Queue)
	group.GET("/:id", h.Get)
	group.PUT("/:id/assign", h.Assign)
	group.POST("/:id/close", h.Close)

	e.GET("/api/tabulations", h.Tabulations)
	e.POST("/api/tabulations", h.CreateTabulation)
}

func (h *ConversationHandler) Queue(c echo.Context) error {
	queued, err := h.service.ListQueued(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, queued)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	summary, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

type assignRequest struct {
	OperatorID string `json:"operator_id"`
}

// Assign pulls the conversation for an operator. An empty operator_id
// assigns to the caller.
func (h *ConversationHandler) Assign(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OperatorID == "" {
		operatorID, err := auth.OperatorIDFromContext(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		req.OperatorID = operatorID
	}

	summary, err := h.service.Assign(c.Request().Context(), c.Param("id"), req.OperatorID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation is closed or missing")
	}
	if errors.Is(err, conversation.ErrOperatorUnavailable) {
		return echo.NewHTTPError(http.StatusConflict, "operator is not active")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

type closeRequest struct {
	TabulationID string `json:"tabulation_id"`
}

func (h *ConversationHandler) Close(c echo.Context) error {
	operatorID, err := auth.OperatorIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TabulationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tabulation_id is required")
	}

	finished, err := h.service.Close(c.Request().Context(), c.Param("id"), req.TabulationID, operatorID)
	if errors.Is(err, router.ErrAlreadyClosed) {
		return echo.NewHTTPError(http.StatusConflict, "conversation already closed")
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation or tabulation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, finished)
}

func (h *ConversationHandler) Tabulations(c echo.Context) error {
	tabulations, err := h.service.Tabulations(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tabulations)
}

type createTabulationRequest struct {
	Name string `json:"name"`
}

func (h *ConversationHandler) CreateTabulation(c echo.Context) error {
	var req createTabulationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	tabulation, err := h.service.CreateTabulation(c.Request().Context(), req.Name)
	if errors.Is(err, store.ErrDuplicate) {
		return echo.NewHTTPError(http.StatusConflict, "tabulation already exists")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, tabulation)
}
