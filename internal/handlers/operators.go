package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/operator"
	"github.com/elsehu/supportdesk/internal/store"
)

// OperatorHandler covers login and operator account endpoints.
type OperatorHandler struct {
	service *operator.Service
	logger  *slog.Logger
}

func NewOperatorHandler(log *slog.Logger, service *operator.Service) *OperatorHandler {
	return &OperatorHandler{
		service: service,
		logger:  log.With(slog.String("handler", "operators")),
	}
}

func (h *OperatorHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)

	group := e.Group("/api/operators")
	group.GET("", h.List)
	group.GET("/me", h.Me)
	group.PUT("/me/online", h.SetOnline)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Operator  store.Operator `json:"operator"`
}

func (h *OperatorHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	session, err := h.service.Login(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, operator.ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if errors.Is(err, operator.ErrInactive) {
		return echo.NewHTTPError(http.StatusForbidden, "account is inactive")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Operator:  session.Operator,
	})
}

func (h *OperatorHandler) List(c echo.Context) error {
	operators, err := h.service.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, operators)
}

func (h *OperatorHandler) Me(c echo.Context) error {
	operatorID, err := auth.OperatorIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	me, err := h.service.Get(c.Request().Context(), operatorID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "operator not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, me)
}

type setOnlineRequest struct {
	Online bool `json:"online"`
}

// SetOnline flips the caller's own availability.
func (h *OperatorHandler) SetOnline(c echo.Context) error {
	operatorID, err := auth.OperatorIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req setOnlineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	updated, err := h.service.SetOnline(c.Request().Context(), operatorID, req.Online)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "operator not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}
