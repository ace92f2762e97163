// Package metrics exposes the platform's Prometheus instrumentation. One
// Metrics value is shared by the ingest pipeline, message service and
// sweeps; the /metrics endpoint serves the registry it was built from.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "supportdesk"

type Metrics struct {
	Registry *prometheus.Registry

	WebhooksReceived    *prometheus.CounterVec
	EventsIgnored       *prometheus.CounterVec
	MessagesInbound     *prometheus.CounterVec
	MessagesDuplicate   *prometheus.CounterVec
	MessagesOutbound    *prometheus.CounterVec
	ConversationsOpened prometheus.Counter
	ConversationsClosed *prometheus.CounterVec
	AssignmentsMade     prometheus.Counter
	MediaResolved       *prometheus.CounterVec
	MediaPruned         prometheus.Counter
}

// New builds a Metrics value backed by a fresh registry that also carries
// the standard Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Webhook deliveries accepted, by provider.",
		}, []string{"provider"}),
		EventsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Webhook payload elements deliberately skipped, by provider.",
		}, []string{"provider"}),
		MessagesInbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_inbound_total",
			Help:      "Customer messages persisted, by provider.",
		}, []string{"provider"}),
		MessagesDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_duplicate_total",
			Help:      "Inbound messages dropped as webhook replays, by provider.",
		}, []string{"provider"}),
		MessagesOutbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_outbound_total",
			Help:      "Operator messages by provider and delivery outcome.",
		}, []string{"provider", "outcome"}),
		ConversationsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_opened_total",
			Help:      "Conversations opened by inbound traffic.",
		}),
		ConversationsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_closed_total",
			Help:      "Conversations closed, by cause.",
		}, []string{"cause"}),
		AssignmentsMade: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Conversations handed to an operator.",
		}),
		MediaResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_resolved_total",
			Help:      "Inbound media resolution attempts, by outcome.",
		}, []string{"outcome"}),
		MediaPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_pruned_total",
			Help:      "Stored media blobs deleted by the retention sweep.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Close-cause label values.
const (
	CauseManual  = "manual"
	CauseExpired = "expired"
)

// Media outcome label values.
const (
	OutcomeStored = "stored"
	OutcomeFailed = "failed"
)

// Delivery outcome label values.
const (
	OutcomeSent       = "sent"
	OutcomeSendFailed = "failed"
)
