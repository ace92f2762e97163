// Package ingest turns raw webhook payloads into conversations and
// messages. It is the only writer for inbound traffic: normalization,
// replay suppression, routing, media resolution, assignment and realtime
// fanout all happen here, in that order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elsehu/supportdesk/internal/dedupe"
	"github.com/elsehu/supportdesk/internal/media"
	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/store"
)

// StatusReceived is the delivery status stamped on inbound messages.
const StatusReceived = "received"

// Store is the persistence surface the pipeline needs.
type Store interface {
	ListActiveInstancesByProvider(ctx context.Context, provider string) ([]store.ServiceInstance, error)
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (store.Message, error)
	GetMessageByExternalID(ctx context.Context, instanceID, externalID string) (store.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string, externalID *string) (store.Message, error)
	GetConversationSummary(ctx context.Context, id string) (store.ConversationSummary, error)
}

// Router finds or creates the open conversation for a contact.
type Router interface {
	Route(ctx context.Context, instance store.ServiceInstance, phone, profileName string) (router.RouteResult, error)
}

// Assigner hands freshly opened conversations to an operator.
type Assigner interface {
	AssignNext(ctx context.Context, conversationID string) (*store.Operator, error)
}

// MediaResolver downloads and validates inbound media.
type MediaResolver interface {
	Resolve(ctx context.Context, creds evolution.Credentials, m provider.Media, conversationID, externalID string) (media.Resolved, error)
}

type Service struct {
	log      *slog.Logger
	adapters *provider.Registry
	store    Store
	router   Router
	assigner Assigner
	media    MediaResolver
	dedupe   *dedupe.Cache
	gateway  realtime.Gateway
	metrics  *metrics.Metrics
}

func NewService(
	log *slog.Logger,
	adapters *provider.Registry,
	st Store,
	rt Router,
	assigner Assigner,
	resolver MediaResolver,
	cache *dedupe.Cache,
	gateway realtime.Gateway,
	m *metrics.Metrics,
) *Service {
	return &Service{
		log:      log.With(slog.String("service", "ingest")),
		adapters: adapters,
		store:    st,
		router:   rt,
		assigner: assigner,
		media:    resolver,
		dedupe:   cache,
		gateway:  gateway,
		metrics:  m,
	}
}

// Process normalizes one webhook payload and applies every event it
// yields. A failing event does not stop the remaining ones; the joined
// error is returned for logging, and callers still acknowledge the
// delivery so the provider does not retry a payload that will never
// parse differently.
func (s *Service) Process(ctx context.Context, kind provider.Kind, payload []byte) error {
	adapter, ok := s.adapters.Get(kind)
	if !ok {
		return fmt.Errorf("ingest: no adapter for provider %q", kind)
	}
	s.metrics.WebhooksReceived.WithLabelValues(string(kind)).Inc()

	events, err := adapter.Normalize(payload)
	if err != nil {
		return fmt.Errorf("ingest: normalize %s payload: %w", kind, err)
	}
	if len(events) == 0 {
		return nil
	}

	instances, err := s.instancesByRef(ctx, kind)
	if err != nil {
		return err
	}

	var errs []error
	for _, event := range events {
		if err := s.apply(ctx, kind, instances, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// instancesByRef loads the active instances for a provider keyed by the
// credential field adapters report as InstanceRef.
func (s *Service) instancesByRef(ctx context.Context, kind provider.Kind) (map[string]store.ServiceInstance, error) {
	instances, err := s.store.ListActiveInstancesByProvider(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("ingest: list %s instances: %w", kind, err)
	}

	field := "instanceName"
	if kind == provider.KindMeta {
		field = "phoneId"
	}
	byRef := make(map[string]store.ServiceInstance, len(instances))
	for _, instance := range instances {
		ref, _ := instance.Credentials[field].(string)
		if ref != "" {
			byRef[ref] = instance
		}
	}
	return byRef, nil
}

func (s *Service) apply(ctx context.Context, kind provider.Kind, instances map[string]store.ServiceInstance, event provider.Event) error {
	switch ev := event.(type) {
	case provider.Ignored:
		s.metrics.EventsIgnored.WithLabelValues(string(kind)).Inc()
		s.log.Debug("webhook event ignored",
			slog.String("provider", string(kind)),
			slog.String("instance", ev.Instance),
			slog.String("reason", ev.Reason))
		return nil
	case provider.StatusUpdate:
		instance, ok := instances[ev.Instance]
		if !ok {
			s.logUnknownInstance(kind, ev.Instance)
			return nil
		}
		return s.applyStatus(ctx, instance, ev)
	case provider.InboundEvent:
		instance, ok := instances[ev.Instance]
		if !ok {
			s.logUnknownInstance(kind, ev.Instance)
			return nil
		}
		return s.applyInbound(ctx, kind, instance, ev)
	default:
		return fmt.Errorf("ingest: unknown event type %T", event)
	}
}

func (s *Service) logUnknownInstance(kind provider.Kind, ref string) {
	s.metrics.EventsIgnored.WithLabelValues(string(kind)).Inc()
	s.log.Warn("webhook for unknown instance",
		slog.String("provider", string(kind)),
		slog.String("instance_ref", ref))
}

func (s *Service) applyInbound(ctx context.Context, kind provider.Kind, instance store.ServiceInstance, ev provider.InboundEvent) error {
	if ev.ExternalID != "" {
		if s.dedupe.CheckAndMark(dedupe.Key(instance.ID, ev.ExternalID)) {
			s.metrics.MessagesDuplicate.WithLabelValues(string(kind)).Inc()
			s.log.Debug("replayed message suppressed",
				slog.String("instance_id", instance.ID),
				slog.String("external_id", ev.ExternalID))
			return nil
		}
	}
	if ev.OddSuffix != "" {
		s.log.Warn("sender id carries unexpected suffix, replies may not deliver",
			slog.String("suffix", ev.OddSuffix),
			slog.String("phone", ev.Phone))
	}

	routed, err := s.router.Route(ctx, instance, ev.Phone, ev.ProfileName)
	if err != nil {
		return fmt.Errorf("ingest: route %s: %w", ev.Phone, err)
	}
	if routed.IsNew {
		s.metrics.ConversationsOpened.Inc()
		if operator, err := s.assigner.AssignNext(ctx, routed.Conversation.ID); err != nil {
			s.log.Warn("assignment failed, conversation stays queued",
				slog.String("conversation_id", routed.Conversation.ID),
				slog.Any("error", err))
		} else if operator != nil {
			s.metrics.AssignmentsMade.Inc()
		}
	}

	// A delivery with no representable content still opened the
	// conversation above; there is nothing to store.
	if ev.Content == "" && ev.Media == nil {
		if routed.IsNew {
			s.emitConversation(ctx, routed.Conversation.ID, true)
		}
		return nil
	}

	message, err := s.storeInbound(ctx, kind, instance, routed.Conversation.ID, ev)
	if errors.Is(err, store.ErrDuplicate) {
		s.metrics.MessagesDuplicate.WithLabelValues(string(kind)).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	s.metrics.MessagesInbound.WithLabelValues(string(kind)).Inc()

	s.gateway.EmitNewMessage(routed.Conversation.ID, message)
	s.emitConversation(ctx, routed.Conversation.ID, routed.IsNew)
	return nil
}

func (s *Service) storeInbound(ctx context.Context, kind provider.Kind, instance store.ServiceInstance, conversationID string, ev provider.InboundEvent) (store.Message, error) {
	params := store.CreateMessageParams{
		ConversationID:    conversationID,
		ServiceInstanceID: instance.ID,
		Direction:         store.DirectionInbound,
		Via:               store.ViaInbound,
		Content:           ev.Content,
		Status:            StatusReceived,
	}
	if ev.ExternalID != "" {
		externalID := ev.ExternalID
		params.ExternalID = &externalID
	}
	if ev.Media != nil {
		params.Media = s.resolveMedia(ctx, kind, instance, conversationID, ev)
	}

	message, err := s.store.CreateMessage(ctx, params)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Message{}, err
		}
		return store.Message{}, fmt.Errorf("ingest: store message: %w", err)
	}
	return message, nil
}

// resolveMedia attempts to pull the media body into blob storage. Failure
// is never fatal: the message is stored with the descriptor and a nil
// storage key so the content reference survives even when the bytes do
// not.
func (s *Service) resolveMedia(ctx context.Context, kind provider.Kind, instance store.ServiceInstance, conversationID string, ev provider.InboundEvent) *store.MessageMedia {
	descriptor := &store.MessageMedia{
		Kind:      string(ev.Media.Kind),
		URL:       ev.Media.URL,
		Mime:      ev.Media.Mime,
		FileName:  ev.Media.FileName,
		Caption:   ev.Media.Caption,
		SizeBytes: ev.Media.SizeBytes,
	}
	if kind != provider.KindEvolution {
		return descriptor
	}

	creds, err := evolution.CredentialsFromMap(instance.Credentials)
	if err != nil {
		s.metrics.MediaResolved.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.log.Warn("media skipped, instance credentials incomplete",
			slog.String("instance_id", instance.ID),
			slog.Any("error", err))
		return descriptor
	}

	resolved, err := s.media.Resolve(ctx, creds, *ev.Media, conversationID, ev.ExternalID)
	if err != nil {
		s.metrics.MediaResolved.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.log.Warn("media unresolvable, storing reference only",
			slog.String("conversation_id", conversationID),
			slog.String("external_id", ev.ExternalID),
			slog.Any("error", err))
		return descriptor
	}

	s.metrics.MediaResolved.WithLabelValues(metrics.OutcomeStored).Inc()
	key := resolved.StorageKey
	size := resolved.Size
	descriptor.StorageKey = &key
	descriptor.SizeBytes = &size
	if resolved.Mime != "" {
		descriptor.Mime = resolved.Mime
	}
	return descriptor
}

func (s *Service) applyStatus(ctx context.Context, instance store.ServiceInstance, ev provider.StatusUpdate) error {
	message, err := s.store.GetMessageByExternalID(ctx, instance.ID, ev.ExternalID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debug("status update for unknown message",
			slog.String("instance_id", instance.ID),
			slog.String("external_id", ev.ExternalID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: find message %s: %w", ev.ExternalID, err)
	}

	if _, err := s.store.UpdateMessageStatus(ctx, message.ID, ev.Status, nil); err != nil {
		return fmt.Errorf("ingest: update message status: %w", err)
	}
	return nil
}

// emitConversation pushes the fresh summary to connected operators. The
// summary fetch can fail without affecting the stored data, so the miss
// is only logged.
func (s *Service) emitConversation(ctx context.Context, conversationID string, isNew bool) {
	summary, err := s.store.GetConversationSummary(ctx, conversationID)
	if err != nil {
		s.log.Warn("summary fetch for fanout failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err))
		return
	}
	if isNew {
		s.gateway.EmitNewConversation(summary)
		return
	}
	s.gateway.EmitConversationUpdated(conversationID, summary)
}
