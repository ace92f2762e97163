// Package provider defines the normalized event model shared by all
// messaging channel integrations. Adapters turn raw webhook payloads into
// events; the ingest pipeline consumes them without knowing which provider
// produced them.
package provider

// Kind identifies a messaging provider integration.
type Kind string

const (
	KindEvolution Kind = "EVOLUTION_API"
	KindMeta      Kind = "OFFICIAL_META"
)

// Media kinds the platform can resolve and store.
const (
	MediaImage    = "IMAGE"
	MediaAudio    = "AUDIO"
	MediaDocument = "DOCUMENT"
)

// Media describes an attachment referenced by an inbound event. URL may be
// relative to the provider's server and is resolved downstream against the
// instance credentials.
type Media struct {
	Kind      string
	URL       *string
	Mime      string
	FileName  string
	Caption   *string
	SizeBytes *int32
}

// Event is the sealed set of outcomes an adapter can produce from one
// webhook payload.
type Event interface {
	// InstanceRef is the provider-side key correlating the event with a
	// configured service instance (Evolution instance name, Meta phone
	// number id).
	InstanceRef() string
}

// InboundEvent is a customer message to route into a conversation. An
// event with empty Content and nil Media still opens a conversation but
// stores no message.
type InboundEvent struct {
	Instance    string
	ExternalID  string
	Phone       string
	ProfileName string
	Content     string
	Media       *Media
	// OddSuffix is set when the sender id carried a suffix the provider
	// is not expected to emit (for example @lid). The message is still
	// processed but replies may not reach the customer.
	OddSuffix string
}

func (e InboundEvent) InstanceRef() string { return e.Instance }

// StatusUpdate is a delivery receipt for a previously sent message. The
// provider's status string is stored verbatim.
type StatusUpdate struct {
	Instance   string
	ExternalID string
	Status     string
}

func (e StatusUpdate) InstanceRef() string { return e.Instance }

// Ignored records a payload element the adapter deliberately skipped, so
// the pipeline can log and count it.
type Ignored struct {
	Instance string
	Reason   string
}

func (e Ignored) InstanceRef() string { return e.Instance }

// Adapter normalizes one provider's webhook payloads. Implementations are
// stateless and must tolerate unknown fields.
type Adapter interface {
	Kind() Kind
	Normalize(payload []byte) ([]Event, error)
}

// Registry maps provider kinds to their adapters.
type Registry struct {
	adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) Get(kind Kind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}
