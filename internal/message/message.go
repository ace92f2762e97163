// Package message owns the outbound path: operator replies, their
// provider delivery, and serving stored media back to the desk UI.
package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/provider/meta"
	"github.com/elsehu/supportdesk/internal/storage"
	"github.com/elsehu/supportdesk/internal/store"
)

var (
	ErrConversationClosed  = errors.New("message: conversation is closed")
	ErrInstanceInactive    = errors.New("message: service instance is inactive")
	ErrNoMedia             = errors.New("message: no media available")
	ErrUnsupportedProvider = errors.New("message: unsupported provider")
)

// Delivery statuses an outbound message moves through.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Store is the persistence surface the service needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
	GetServiceInstance(ctx context.Context, id string) (store.ServiceInstance, error)
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (store.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string, externalID *string) (store.Message, error)
	GetMessage(ctx context.Context, id string) (store.Message, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]store.Message, error)
}

// EvolutionClient is the Evolution surface used for delivery and media
// passthrough.
type EvolutionClient interface {
	SendText(ctx context.Context, creds evolution.Credentials, phone, text string) (evolution.SendResult, error)
	Download(ctx context.Context, creds evolution.Credentials, url string) ([]byte, string, error)
}

// MetaClient is the Cloud API delivery surface.
type MetaClient interface {
	SendText(ctx context.Context, creds meta.Credentials, phone, text string) (string, error)
}

type Service struct {
	log       *slog.Logger
	store     Store
	blobs     storage.Provider
	evolution EvolutionClient
	meta      MetaClient
	metrics   *metrics.Metrics
}

func NewService(log *slog.Logger, st Store, blobs storage.Provider, evo EvolutionClient, mt MetaClient, m *metrics.Metrics) *Service {
	return &Service{
		log:       log.With(slog.String("service", "message")),
		store:     st,
		blobs:     blobs,
		evolution: evo,
		meta:      mt,
		metrics:   m,
	}
}

// Send persists an operator reply and delivers it through the
// conversation's provider. The message row is written first with a
// pending status so a delivery crash still leaves an audit trail; a
// failed delivery marks the row failed and surfaces the error.
func (s *Service) Send(ctx context.Context, operatorID, conversationID, content string) (store.Message, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}
	if conversation.Status != store.StatusOpen {
		return store.Message{}, ErrConversationClosed
	}

	instance, err := s.store.GetServiceInstance(ctx, conversation.ServiceInstanceID)
	if err != nil {
		return store.Message{}, err
	}
	if !instance.IsActive {
		return store.Message{}, ErrInstanceInactive
	}

	contact, err := s.store.GetContact(ctx, conversation.ContactID)
	if err != nil {
		return store.Message{}, err
	}
	phone, err := provider.OutboundPhone(contact.Phone)
	if err != nil {
		return store.Message{}, fmt.Errorf("message: contact %s: %w", contact.ID, err)
	}

	pending, err := s.store.CreateMessage(ctx, store.CreateMessageParams{
		ConversationID:    conversationID,
		ServiceInstanceID: instance.ID,
		SenderID:          &operatorID,
		Direction:         store.DirectionOutbound,
		Via:               store.ViaChatManual,
		Content:           content,
		Status:            StatusPending,
	})
	if err != nil {
		return store.Message{}, err
	}

	externalID, status, err := s.deliver(ctx, instance, phone, content)
	if err != nil {
		s.metrics.MessagesOutbound.WithLabelValues(instance.Provider, metrics.OutcomeSendFailed).Inc()
		if _, markErr := s.store.UpdateMessageStatus(ctx, pending.ID, StatusFailed, nil); markErr != nil {
			s.log.Warn("could not mark message failed",
				slog.String("message_id", pending.ID),
				slog.Any("error", markErr))
		}
		return store.Message{}, fmt.Errorf("message: deliver: %w", err)
	}
	s.metrics.MessagesOutbound.WithLabelValues(instance.Provider, metrics.OutcomeSent).Inc()

	sent, err := s.store.UpdateMessageStatus(ctx, pending.ID, status, &externalID)
	if err != nil {
		// Delivery succeeded; the stale pending row is preferable to a
		// duplicate send, so only report the bookkeeping failure.
		s.log.Warn("delivered message kept pending status",
			slog.String("message_id", pending.ID),
			slog.Any("error", err))
		return pending, nil
	}
	return sent, nil
}

func (s *Service) deliver(ctx context.Context, instance store.ServiceInstance, phone, content string) (externalID, status string, err error) {
	switch provider.Kind(instance.Provider) {
	case provider.KindEvolution:
		creds, err := evolution.CredentialsFromMap(instance.Credentials)
		if err != nil {
			return "", "", err
		}
		result, err := s.evolution.SendText(ctx, creds, phone, content)
		if err != nil {
			return "", "", err
		}
		return result.ExternalID, result.Status, nil
	case provider.KindMeta:
		creds, err := meta.CredentialsFromMap(instance.Credentials)
		if err != nil {
			return "", "", err
		}
		id, err := s.meta.SendText(ctx, creds, phone, content)
		if err != nil {
			return "", "", err
		}
		return id, "sent", nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, instance.Provider)
	}
}

// List returns the conversation's messages oldest first.
func (s *Service) List(ctx context.Context, conversationID string) ([]store.Message, error) {
	return s.store.ListMessagesByConversation(ctx, conversationID)
}

// MediaContent is a media body ready to stream to the desk client.
type MediaContent struct {
	Body     io.ReadCloser
	Mime     string
	FileName string
}

// OpenMedia streams a message's media. Stored blobs are served from blob
// storage; when resolution failed at ingest time but the provider URL is
// still known, Evolution media is proxied live as a second chance.
func (s *Service) OpenMedia(ctx context.Context, messageID string) (MediaContent, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return MediaContent{}, err
	}
	if message.Media == nil {
		return MediaContent{}, ErrNoMedia
	}

	if message.Media.StorageKey != nil {
		body, err := s.blobs.Open(ctx, *message.Media.StorageKey)
		if err != nil {
			return MediaContent{}, err
		}
		return MediaContent{Body: body, Mime: message.Media.Mime, FileName: message.Media.FileName}, nil
	}

	if message.Media.URL == nil {
		return MediaContent{}, ErrNoMedia
	}
	instance, err := s.store.GetServiceInstance(ctx, message.ServiceInstanceID)
	if err != nil {
		return MediaContent{}, err
	}
	if provider.Kind(instance.Provider) != provider.KindEvolution {
		return MediaContent{}, ErrNoMedia
	}
	creds, err := evolution.CredentialsFromMap(instance.Credentials)
	if err != nil {
		return MediaContent{}, err
	}

	data, contentType, err := s.evolution.Download(ctx, creds, evolution.ResolveMediaURL(*message.Media.URL, creds))
	if err != nil {
		return MediaContent{}, fmt.Errorf("message: proxy media: %w", err)
	}
	mime := message.Media.Mime
	if contentType != "" {
		mime = contentType
	}
	return MediaContent{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Mime:     mime,
		FileName: message.Media.FileName,
	}, nil
}
