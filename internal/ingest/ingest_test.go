package ingest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsehu/supportdesk/internal/dedupe"
	"github.com/elsehu/supportdesk/internal/media"
	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/provider/meta"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/store"
)

type fakeStore struct {
	instances []store.ServiceInstance
	created   []store.Message
	params    []store.CreateMessageParams
	createErr error

	byExternal map[string]store.Message
	statuses   map[string]string

	summaries map[string]store.ConversationSummary
}

func (f *fakeStore) ListActiveInstancesByProvider(_ context.Context, providerName string) ([]store.ServiceInstance, error) {
	var out []store.ServiceInstance
	for _, instance := range f.instances {
		if instance.Provider == providerName {
			out = append(out, instance)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, p store.CreateMessageParams) (store.Message, error) {
	if f.createErr != nil {
		return store.Message{}, f.createErr
	}
	f.params = append(f.params, p)
	msg := store.Message{
		ID:                "msg-" + time.Now().Format("150405.000000000"),
		ConversationID:    p.ConversationID,
		ServiceInstanceID: p.ServiceInstanceID,
		Direction:         p.Direction,
		Via:               p.Via,
		Content:           p.Content,
		Media:             p.Media,
		ExternalID:        p.ExternalID,
		Status:            p.Status,
		CreatedAt:         time.Now(),
	}
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeStore) GetMessageByExternalID(_ context.Context, instanceID, externalID string) (store.Message, error) {
	msg, ok := f.byExternal[instanceID+":"+externalID]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return msg, nil
}

func (f *fakeStore) UpdateMessageStatus(_ context.Context, id, status string, _ *string) (store.Message, error) {
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[id] = status
	return store.Message{ID: id, Status: status}, nil
}

func (f *fakeStore) GetConversationSummary(_ context.Context, id string) (store.ConversationSummary, error) {
	if summary, ok := f.summaries[id]; ok {
		return summary, nil
	}
	return store.ConversationSummary{Conversation: store.Conversation{ID: id}}, nil
}

type fakeRouter struct {
	result router.RouteResult
	calls  int
	phones []string
}

func (f *fakeRouter) Route(_ context.Context, _ store.ServiceInstance, phone, _ string) (router.RouteResult, error) {
	f.calls++
	f.phones = append(f.phones, phone)
	return f.result, nil
}

type fakeAssigner struct {
	calls    []string
	operator *store.Operator
}

func (f *fakeAssigner) AssignNext(_ context.Context, conversationID string) (*store.Operator, error) {
	f.calls = append(f.calls, conversationID)
	return f.operator, nil
}

type fakeResolver struct {
	resolved media.Resolved
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(_ context.Context, _ evolution.Credentials, _ provider.Media, _, _ string) (media.Resolved, error) {
	f.calls++
	return f.resolved, f.err
}

type fakeGateway struct {
	messages     []store.Message
	newSummaries []store.ConversationSummary
	updated      []string
	closed       []string
	presence     []string
}

func (f *fakeGateway) EmitNewMessage(_ string, message store.Message) {
	f.messages = append(f.messages, message)
}

func (f *fakeGateway) EmitNewConversation(summary store.ConversationSummary) {
	f.newSummaries = append(f.newSummaries, summary)
}

func (f *fakeGateway) EmitConversationUpdated(conversationID string, _ store.ConversationSummary) {
	f.updated = append(f.updated, conversationID)
}

func (f *fakeGateway) EmitConversationClosed(conversationID string) {
	f.closed = append(f.closed, conversationID)
}

func (f *fakeGateway) EmitPresence(operatorID string, _ bool) {
	f.presence = append(f.presence, operatorID)
}

type pipeline struct {
	service  *Service
	store    *fakeStore
	router   *fakeRouter
	assigner *fakeAssigner
	resolver *fakeResolver
	gateway  *fakeGateway
	cache    *dedupe.Cache
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	st := &fakeStore{
		instances: []store.ServiceInstance{
			{
				ID:       "inst-1",
				Name:     "main",
				Provider: string(provider.KindEvolution),
				Credentials: map[string]any{
					"serverUrl":    "https://evo.example.com",
					"apiToken":     "secret",
					"instanceName": "main",
				},
				IsActive: true,
			},
			{
				ID:       "inst-2",
				Name:     "meta",
				Provider: string(provider.KindMeta),
				Credentials: map[string]any{
					"phoneId":     "5511000",
					"accessToken": "token",
				},
				IsActive: true,
			},
		},
	}
	rt := &fakeRouter{result: router.RouteResult{
		Contact:      store.Contact{ID: "contact-1", Phone: "+5511999990000"},
		Conversation: store.Conversation{ID: "conv-1", ContactID: "contact-1", ServiceInstanceID: "inst-1", Status: store.StatusOpen},
	}}
	assigner := &fakeAssigner{}
	resolver := &fakeResolver{resolved: media.Resolved{StorageKey: "messages/conv-1/file.jpg", Size: 42, Mime: "image/jpeg"}}
	gateway := &fakeGateway{}
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	service := NewService(
		slog.Default(),
		provider.NewRegistry(evolution.NewAdapter(), meta.NewAdapter()),
		st, rt, assigner, resolver, cache, gateway, metrics.New(),
	)
	return &pipeline{service: service, store: st, router: rt, assigner: assigner, resolver: resolver, gateway: gateway, cache: cache}
}

func evolutionText(id, text string) []byte {
	return []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "` + id + `"},
			"pushName": "Ana",
			"message": {"conversation": "` + text + `"}
		}
	}`)
}

func TestProcessStoresInboundText(t *testing.T) {
	p := newPipeline(t)

	err := p.service.Process(context.Background(), provider.KindEvolution, evolutionText("WA-1", "hello"))
	require.NoError(t, err)

	require.Len(t, p.store.created, 1)
	msg := p.store.created[0]
	assert.Equal(t, store.DirectionInbound, msg.Direction)
	assert.Equal(t, store.ViaInbound, msg.Via)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, StatusReceived, msg.Status)
	require.NotNil(t, msg.ExternalID)
	assert.Equal(t, "WA-1", *msg.ExternalID)

	require.Len(t, p.gateway.messages, 1)
	assert.Equal(t, []string{"conv-1"}, p.gateway.updated)
	assert.Empty(t, p.assigner.calls, "existing conversation must not be reassigned")
}

func TestProcessAssignsNewConversations(t *testing.T) {
	p := newPipeline(t)
	p.router.result.IsNew = true
	p.assigner.operator = &store.Operator{ID: "op-1"}

	err := p.service.Process(context.Background(), provider.KindEvolution, evolutionText("WA-2", "hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"conv-1"}, p.assigner.calls)
	require.Len(t, p.gateway.newSummaries, 1)
	assert.Equal(t, "conv-1", p.gateway.newSummaries[0].ID)
	assert.Empty(t, p.gateway.updated)
}

func TestProcessSuppressesReplayedDeliveries(t *testing.T) {
	p := newPipeline(t)
	payload := evolutionText("WA-3", "once")

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))
	require.Len(t, p.store.created, 1, "first delivery must be stored, not treated as a replay")

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	assert.Equal(t, 1, p.router.calls)
	assert.Len(t, p.store.created, 1)
}

func TestProcessIgnoresUnknownInstance(t *testing.T) {
	p := newPipeline(t)
	payload := []byte(`{
		"event": "messages.upsert",
		"instance": "someone-elses-instance",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "WA-4"},
			"message": {"conversation": "hi"}
		}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	assert.Zero(t, p.router.calls)
	assert.Empty(t, p.store.created)
}

func TestProcessAppliesStatusUpdates(t *testing.T) {
	p := newPipeline(t)
	p.store.byExternal = map[string]store.Message{
		"inst-1:WA-5": {ID: "msg-9", Status: "sent"},
	}
	payload := []byte(`{
		"event": "messages.update",
		"instance": "main",
		"data": {"key": {"id": "WA-5"}, "status": "READ"}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	assert.Equal(t, "READ", p.store.statuses["msg-9"])
}

func TestProcessStatusUpdateForUnknownMessage(t *testing.T) {
	p := newPipeline(t)
	payload := []byte(`{
		"event": "messages.update",
		"instance": "main",
		"data": {"key": {"id": "never-seen"}, "status": "READ"}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))
	assert.Empty(t, p.store.statuses)
}

func TestProcessStoresMediaReference(t *testing.T) {
	p := newPipeline(t)
	payload := []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "WA-6"},
			"pushName": "Ana",
			"message": {"imageMessage": {"url": "/media/abc.jpg", "mimetype": "image/jpeg", "caption": "look"}}
		}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	require.Len(t, p.store.created, 1)
	mediaRef := p.store.created[0].Media
	require.NotNil(t, mediaRef)
	require.NotNil(t, mediaRef.StorageKey)
	assert.Equal(t, "messages/conv-1/file.jpg", *mediaRef.StorageKey)
	assert.Equal(t, "image/jpeg", mediaRef.Mime)
	assert.Equal(t, 1, p.resolver.calls)
}

func TestProcessKeepsMessageWhenMediaFails(t *testing.T) {
	p := newPipeline(t)
	p.resolver.err = media.ErrUnresolvable
	payload := []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "WA-7"},
			"message": {"imageMessage": {"url": "/media/abc.jpg", "mimetype": "image/jpeg"}}
		}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	require.Len(t, p.store.created, 1)
	mediaRef := p.store.created[0].Media
	require.NotNil(t, mediaRef)
	assert.Nil(t, mediaRef.StorageKey)
	require.NotNil(t, mediaRef.URL)
	assert.Equal(t, "/media/abc.jpg", *mediaRef.URL)
}

func TestProcessOpensConversationWithoutContent(t *testing.T) {
	p := newPipeline(t)
	p.router.result.IsNew = true
	payload := []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "WA-8"},
			"message": {"contactMessage": {"displayName": "card"}}
		}
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, payload))

	assert.Equal(t, 1, p.router.calls)
	assert.Empty(t, p.store.created)
	require.Len(t, p.gateway.newSummaries, 1)
}

func TestProcessTreatsStoreDuplicateAsReplay(t *testing.T) {
	p := newPipeline(t)
	p.store.createErr = store.ErrDuplicate

	require.NoError(t, p.service.Process(context.Background(), provider.KindEvolution, evolutionText("WA-9", "again")))

	assert.Empty(t, p.gateway.messages)
}

func TestProcessMetaDelivery(t *testing.T) {
	p := newPipeline(t)
	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "5511000"},
					"contacts": [{"wa_id": "5511888880000", "profile": {"name": "Bruno"}}],
					"messages": [{"id": "wamid.1", "from": "5511888880000", "type": "text", "text": {"body": "oi"}}]
				}
			}]
		}]
	}`)

	require.NoError(t, p.service.Process(context.Background(), provider.KindMeta, payload))

	require.Len(t, p.store.created, 1)
	assert.Equal(t, "oi", p.store.created[0].Content)
	assert.Equal(t, "inst-2", p.store.created[0].ServiceInstanceID)
	assert.Equal(t, 0, p.resolver.calls, "media resolution is an Evolution concern")
}

func TestProcessRejectsUnknownProvider(t *testing.T) {
	p := newPipeline(t)

	err := p.service.Process(context.Background(), provider.Kind("CARRIER_PIGEON"), []byte(`{}`))
	assert.Error(t, err)
}

func TestProcessContinuesPastFailingEvents(t *testing.T) {
	p := newPipeline(t)
	p.store.byExternal = map[string]store.Message{}
	p.store.createErr = errors.New("disk full")

	err := p.service.Process(context.Background(), provider.KindEvolution, evolutionText("WA-10", "hi"))
	assert.Error(t, err)
}
