package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/store"
)

// InstanceStore is the instance surface the handler reads.
type InstanceStore interface {
	ListServiceInstances(ctx context.Context) ([]store.ServiceInstance, error)
	GetServiceInstance(ctx context.Context, id string) (store.ServiceInstance, error)
}

// EvolutionStater reports an Evolution instance's gateway connection.
type EvolutionStater interface {
	InstanceState(ctx context.Context, creds evolution.Credentials) (string, error)
}

// InstanceHandler exposes the configured channel instances and their
// connection diagnostics.
type InstanceHandler struct {
	store     InstanceStore
	evolution EvolutionStater
	logger    *slog.Logger
}

func NewInstanceHandler(log *slog.Logger, st InstanceStore, evo EvolutionStater) *InstanceHandler {
	return &InstanceHandler{
		store:     st,
		evolution: evo,
		logger:    log.With(slog.String("handler", "instances")),
	}
}

func (h *InstanceHandler) Register(e *echo.Echo) {
	e.GET("/api/instances", h.List)
	e.GET("/api/instances/:id/state", h.State)
}

func (h *InstanceHandler) List(c echo.Context) error {
	instances, err := h.store.ListServiceInstances(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, instances)
}

type instanceStateResponse struct {
	InstanceID string `json:"instance_id"`
	Provider   string `json:"provider"`
	State      string `json:"state"`
}

// State asks the provider whether the instance is connected. Only
// Evolution exposes such a probe; Cloud API instances always report
// "configured".
func (h *InstanceHandler) State(c echo.Context) error {
	instance, err := h.store.GetServiceInstance(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := instanceStateResponse{InstanceID: instance.ID, Provider: instance.Provider}
	if provider.Kind(instance.Provider) != provider.KindEvolution {
		resp.State = "configured"
		return c.JSON(http.StatusOK, resp)
	}

	creds, err := evolution.CredentialsFromMap(instance.Credentials)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, "instance credentials incomplete")
	}
	state, err := h.evolution.InstanceState(c.Request().Context(), creds)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	resp.State = state
	return c.JSON(http.StatusOK, resp)
}
