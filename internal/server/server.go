package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/handlers"
	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/realtime"
)

type Server struct {
	echo *echo.Echo
	addr string
}

// shouldSkipJWT lists the surfaces that authenticate themselves (webhooks
// via provider verification, the socket via its own token check) or must
// stay reachable without a token.
func shouldSkipJWT(path string) bool {
	if path == "/ping" || path == "/health" || path == "/metrics" || path == "/auth/login" || path == "/ws" {
		return true
	}
	return strings.HasPrefix(path, "/webhooks/")
}

func NewServer(
	log *slog.Logger,
	addr string,
	jwtSecret string,
	m *metrics.Metrics,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	operatorHandler *handlers.OperatorHandler,
	conversationHandler *handlers.ConversationHandler,
	messageHandler *handlers.MessageHandler,
	instanceHandler *handlers.InstanceHandler,
	realtimeHandler *realtime.Handler,
) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
				log.Warn("request", attrs...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if operatorHandler != nil {
		operatorHandler.Register(e)
	}
	if conversationHandler != nil {
		conversationHandler.Register(e)
	}
	if messageHandler != nil {
		messageHandler.Register(e)
	}
	if instanceHandler != nil {
		instanceHandler.Register(e)
	}
	if realtimeHandler != nil {
		realtimeHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
