package realtime

import (
	"encoding/json"

	"github.com/elsehu/supportdesk/internal/store"
)

// Server-to-client event names. Frontends key their handlers on these.
const (
	EventMessageNew          = "message:new"
	EventConversationNew     = "conversation:new"
	EventConversationUpdated = "conversation:updated"
	EventConversationClosed  = "conversation:closed"
	EventTypingUser          = "typing:user"
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventError               = "error"
)

// Client-to-server operations.
const (
	OpConversationJoin  = "conversation:join"
	OpConversationLeave = "conversation:leave"
	OpMessageSend       = "message:send"
	OpTypingStart       = "typing:start"
	OpTypingStop        = "typing:stop"
)

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeEvent(event string, data any) []byte {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		// Every payload type here is marshalable; an error means a
		// programming mistake, not runtime input.
		panic(err)
	}
	return payload
}

type typingPayload struct {
	OperatorID string `json:"operator_id"`
	IsTyping   bool   `json:"is_typing"`
}

type presencePayload struct {
	OperatorID string `json:"operator_id"`
}

type closedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Gateway is the fanout surface the ingest, message and operator services
// use. Hub implements it; tests substitute fakes.
type Gateway interface {
	EmitNewMessage(conversationID string, message store.Message)
	EmitNewConversation(summary store.ConversationSummary)
	EmitConversationUpdated(conversationID string, summary store.ConversationSummary)
	EmitConversationClosed(conversationID string)
	EmitPresence(operatorID string, online bool)
}
