package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/store"
)

// MessageSender is the message service surface the socket's message:send
// operation uses.
type MessageSender interface {
	Send(ctx context.Context, operatorID, conversationID, content string) (store.Message, error)
}

// ConversationReader resolves conversation summaries for join results.
type ConversationReader interface {
	GetConversationSummary(ctx context.Context, id string) (store.ConversationSummary, error)
}

// Handler upgrades /ws requests and drives the per-connection read loop.
// The JWT is taken from the Authorization header or a token query
// parameter; connections without a valid one are refused.
type Handler struct {
	log           *slog.Logger
	hub           *Hub
	secret        string
	messages      MessageSender
	conversations ConversationReader
	upgrader      websocket.Upgrader
}

func NewHandler(log *slog.Logger, hub *Hub, secret string, messages MessageSender, conversations ConversationReader) *Handler {
	return &Handler{
		log:           log.With(slog.String("handler", "realtime")),
		hub:           hub,
		secret:        secret,
		messages:      messages,
		conversations: conversations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Operator frontends are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.serve)
}

func (h *Handler) serve(c echo.Context) error {
	token := tokenFromRequest(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	operatorID, err := auth.VerifyToken(token, h.secret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := NewConnection(operatorID, ws)
	if first := h.hub.Attach(conn); first {
		h.hub.EmitPresence(operatorID, true)
	}
	h.log.Info("operator connected",
		slog.String("operator_id", operatorID), slog.String("session_id", conn.ID))

	go h.readLoop(conn, ws)
	return nil
}

func tokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return c.QueryParam("token")
}

type clientFrame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID string `json:"conversation_id"`
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn) {
	defer func() {
		if last := h.hub.Detach(conn); last {
			h.hub.EmitPresence(conn.OperatorID, false)
		}
		conn.Close(websocket.CloseNormalClosure, "")
		h.log.Info("operator disconnected",
			slog.String("operator_id", conn.OperatorID), slog.String("session_id", conn.ID))
	}()

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			_ = conn.Send(encodeEvent(EventError, "malformed frame"))
			continue
		}
		h.dispatch(conn, frame)
	}
}

func (h *Handler) dispatch(conn *Connection, frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Op {
	case OpConversationJoin:
		var ref conversationRef
		if err := json.Unmarshal(frame.Data, &ref); err != nil || ref.ConversationID == "" {
			_ = conn.Send(encodeEvent(EventError, "conversation_id required"))
			return
		}
		summary, err := h.conversations.GetConversationSummary(ctx, ref.ConversationID)
		if err != nil {
			_ = conn.Send(encodeEvent(EventError, "conversation not found"))
			return
		}
		h.hub.Join(ref.ConversationID, conn)
		_ = conn.Send(encodeEvent(EventConversationUpdated, summary))

	case OpConversationLeave:
		var ref conversationRef
		if err := json.Unmarshal(frame.Data, &ref); err == nil && ref.ConversationID != "" {
			h.hub.Leave(ref.ConversationID, conn)
		}

	case OpMessageSend:
		var req sendRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.ConversationID == "" {
			_ = conn.Send(encodeEvent(EventError, "conversation_id and content required"))
			return
		}
		message, err := h.messages.Send(ctx, conn.OperatorID, req.ConversationID, req.Content)
		if err != nil {
			h.log.Warn("socket send failed",
				slog.String("conversation_id", req.ConversationID),
				slog.String("error", err.Error()))
			_ = conn.Send(encodeEvent(EventError, err.Error()))
			return
		}
		h.hub.EmitNewMessage(req.ConversationID, message)

	case OpTypingStart, OpTypingStop:
		var ref conversationRef
		if err := json.Unmarshal(frame.Data, &ref); err != nil || ref.ConversationID == "" {
			return
		}
		payload := encodeEvent(EventTypingUser, typingPayload{
			OperatorID: conn.OperatorID,
			IsTyping:   frame.Op == OpTypingStart,
		})
		h.hub.Broadcast(ref.ConversationID, payload, conn.ID)

	default:
		_ = conn.Send(encodeEvent(EventError, "unknown op "+frame.Op))
	}
}
