package store

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "OPEN"
	StatusClosed ConversationStatus = "CLOSED"
)

// Direction distinguishes customer messages from operator messages.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Via records which surface produced an outbound message.
const (
	ViaInbound    = "INBOUND"
	ViaChatManual = "CHAT_MANUAL"
	ViaSystem     = "SYSTEM"
)

// Operator roles eligible for conversation assignment.
const (
	RoleOperator   = "OPERATOR"
	RoleSupervisor = "SUPERVISOR"
	RoleAdmin      = "ADMIN"
)

// Contact is an external party identified by a normalized phone number.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceInstance is one configured credential set for a provider channel.
// It is read-only to the core; configuration management owns it.
type ServiceInstance struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Provider    string         `json:"provider"`
	Credentials map[string]any `json:"-"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Operator is the subset of a user relevant to assignment.
type Operator struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	IsOnline       bool       `json:"is_online"`
	OnlineSince    *time.Time `json:"online_since,omitempty"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}

// Conversation is the unit of assignment. At most one OPEN conversation
// exists per (contact, service instance) pair; a partial unique index
// enforces this.
type Conversation struct {
	ID                string             `json:"id"`
	ContactID         string             `json:"contact_id"`
	ServiceInstanceID string             `json:"service_instance_id"`
	OperatorID        *string            `json:"operator_id,omitempty"`
	Status            ConversationStatus `json:"status"`
	StartTime         time.Time          `json:"start_time"`
}

// ConversationSummary is a conversation denormalized for list views and
// realtime payloads.
type ConversationSummary struct {
	Conversation
	ContactName         string     `json:"contact_name"`
	ContactPhone        string     `json:"contact_phone"`
	ServiceInstanceName string     `json:"service_instance_name"`
	OperatorName        *string    `json:"operator_name,omitempty"`
	MessageCount        int        `json:"message_count"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
}

// MessageMedia is the media descriptor attached to a message. A nil
// descriptor means no media was ever present; a descriptor with a nil
// StorageKey means media existed but could not be resolved (or was pruned
// by the retention sweep).
type MessageMedia struct {
	Kind       string  `json:"kind"`
	URL        *string `json:"url,omitempty"`
	Mime       string  `json:"mime"`
	FileName   string  `json:"file_name"`
	Caption    *string `json:"caption,omitempty"`
	SizeBytes  *int32  `json:"size_bytes,omitempty"`
	StorageKey *string `json:"storage_key,omitempty"`
}

// Message is an immutable append-only record; delivery status is the only
// field mutated after creation.
type Message struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	ServiceInstanceID string        `json:"service_instance_id"`
	SenderID          *string       `json:"sender_id,omitempty"`
	Direction         Direction     `json:"direction"`
	Via               string        `json:"via"`
	Content           string        `json:"content"`
	Media             *MessageMedia `json:"media,omitempty"`
	ExternalID        *string       `json:"external_id,omitempty"`
	Status            string        `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Tabulation is a named closure-reason category.
type Tabulation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsAutomatic bool      `json:"is_automatic"`
	CreatedAt   time.Time `json:"created_at"`
}

// FinishedConversation is the write-once snapshot recorded when a
// conversation closes.
type FinishedConversation struct {
	ID                     string    `json:"id"`
	OriginalConversationID string    `json:"original_conversation_id"`
	ContactID              string    `json:"contact_id"`
	OperatorID             *string   `json:"operator_id,omitempty"`
	TabulationID           string    `json:"tabulation_id"`
	ContactName            string    `json:"contact_name"`
	ContactPhone           string    `json:"contact_phone"`
	OperatorName           string    `json:"operator_name"`
	StartTime              time.Time `json:"start_time"`
	EndTime                time.Time `json:"end_time"`
	DurationSeconds        int32     `json:"duration_seconds"`
	AvgResponseContact     *int32    `json:"avg_response_seconds_contact,omitempty"`
	AvgResponseOperator    *int32    `json:"avg_response_seconds_operator,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}
