// Package realtime fans conversation activity out to connected operator
// frontends over websockets. Conversations are rooms; operators join the
// rooms they are viewing. Conversation-opened and presence events go to
// every connected session.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/elsehu/supportdesk/internal/store"
)

// Hub tracks sessions and room membership. An operator may hold several
// sessions (multiple tabs); presence flips offline only when the last one
// goes away.
type Hub struct {
	mu               sync.RWMutex
	sessions         map[string]*Connection
	operatorSessions map[string]map[string]struct{}
	rooms            map[string]map[string]*Connection
	sessionRooms     map[string]map[string]struct{}
	log              *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions:         make(map[string]*Connection),
		operatorSessions: make(map[string]map[string]struct{}),
		rooms:            make(map[string]map[string]*Connection),
		sessionRooms:     make(map[string]map[string]struct{}),
		log:              log.With(slog.String("service", "realtime")),
	}
}

// Attach registers a connection and starts its write loop. It reports
// whether this is the operator's first live session.
func (h *Hub) Attach(conn *Connection) bool {
	h.mu.Lock()
	h.sessions[conn.ID] = conn
	sessions := h.operatorSessions[conn.OperatorID]
	if sessions == nil {
		sessions = make(map[string]struct{})
		h.operatorSessions[conn.OperatorID] = sessions
	}
	first := len(sessions) == 0
	sessions[conn.ID] = struct{}{}
	h.sessionRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
	return first
}

// Detach forgets a connection and reports whether the operator has no
// sessions left.
func (h *Hub) Detach(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[conn.ID]; !ok {
		return false
	}
	delete(h.sessions, conn.ID)

	for roomID := range h.sessionRooms[conn.ID] {
		h.leaveLocked(roomID, conn.ID)
	}
	delete(h.sessionRooms, conn.ID)

	sessions := h.operatorSessions[conn.OperatorID]
	delete(sessions, conn.ID)
	if len(sessions) == 0 {
		delete(h.operatorSessions, conn.OperatorID)
		return true
	}
	return false
}

// Join subscribes a connection to a conversation room.
func (h *Hub) Join(conversationID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[conn.ID]; !ok {
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[conversationID] = room
	}
	room[conn.ID] = conn
	h.sessionRooms[conn.ID][conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a conversation room.
func (h *Hub) Leave(conversationID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conversationID, conn.ID)
}

func (h *Hub) leaveLocked(conversationID, sessionID string) {
	room := h.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	if memberships, ok := h.sessionRooms[sessionID]; ok {
		delete(memberships, conversationID)
	}
}

// Broadcast delivers a payload to a conversation room. A non-empty
// excludeSessionID skips that session, used so typing echoes do not
// return to their author.
func (h *Hub) Broadcast(conversationID string, payload []byte, excludeSessionID string) int {
	h.mu.RLock()
	room := h.rooms[conversationID]
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		if excludeSessionID != "" && conn.ID == excludeSessionID {
			continue
		}
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll delivers a payload to every live session.
func (h *Hub) BroadcastAll(payload []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// IsConnected reports whether an operator has at least one live session.
func (h *Hub) IsConnected(operatorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.operatorSessions[operatorID]) > 0
}

// Close terminates every session and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.operatorSessions = make(map[string]map[string]struct{})
	h.rooms = make(map[string]map[string]*Connection)
	h.sessionRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

// EmitNewMessage pushes a stored message to the conversation's room.
func (h *Hub) EmitNewMessage(conversationID string, message store.Message) {
	h.Broadcast(conversationID, encodeEvent(EventMessageNew, message), "")
}

// EmitNewConversation announces a newly opened conversation to every
// session, so queue views update without a subscription.
func (h *Hub) EmitNewConversation(summary store.ConversationSummary) {
	h.BroadcastAll(encodeEvent(EventConversationNew, summary))
}

// EmitConversationUpdated pushes refreshed conversation state to its room.
func (h *Hub) EmitConversationUpdated(conversationID string, summary store.ConversationSummary) {
	h.Broadcast(conversationID, encodeEvent(EventConversationUpdated, summary), "")
}

// EmitConversationClosed tells the room the conversation is over.
func (h *Hub) EmitConversationClosed(conversationID string) {
	h.Broadcast(conversationID, encodeEvent(EventConversationClosed, closedPayload{ConversationID: conversationID}), "")
}

// EmitPresence announces an operator going online or offline to everyone.
func (h *Hub) EmitPresence(operatorID string, online bool) {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	h.BroadcastAll(encodeEvent(event, presencePayload{OperatorID: operatorID}))
}
