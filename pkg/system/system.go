package system

import (
	"github.com/crossbus/crossbus/pkg/correlation"
	"github.com/crossbus/crossbus/pkg/types"
	"gopkg.in/yaml.v3"
)

// SystemHandle is the base contract for all middleware adapters.
//
// Lifecycle: Configure is called exactly once, before any other method, and
// happens-before the first SpinOnce. A Configure error means the adapter
// cannot satisfy its required types or reach its transport; the router must
// never spin an adapter whose Configure failed. Once Okay reports false the
// adapter is terminally degraded and is removed from the polling rotation.
type SystemHandle interface {
	// Configure performs one-time setup. The adapter must register into reg
	// a descriptor for every required type its middleware supplies natively
	// and must fail if a required type cannot be satisfied. cfg is the
	// middleware-specific fragment of the bridge configuration, passed
	// through unmodified; it may be nil or empty.
	Configure(req types.Required, cfg *yaml.Node, reg *types.Registry) error

	// Okay is a pure liveness query with no side effects, safe to call at
	// arbitrary frequency.
	Okay() bool

	// SpinOnce performs one bounded, non-blocking unit of transport work:
	// delivering queued inbound messages and requests to registered
	// callbacks, flushing outbound state, attempting reconnects. It is the
	// sole polling point of the bridge and must not block unboundedly.
	// Returns what a subsequent Okay would.
	SpinOnce() bool
}

// SubscriptionCallback is invoked once per inbound topic message. It must
// tolerate invocation from any thread and must not block indefinitely.
type SubscriptionCallback func(msg *types.Data)

// RequestCallback is invoked once per inbound service request, together
// with the client proxy that accepted it and the handle that identifies the
// in-flight call. The callback forwards the request across the bridge; it
// never produces the response itself. It must be reentrant and thread-safe.
type RequestCallback func(req *types.Data, client Client, call correlation.Handle)

// Publisher is a forwarding endpoint bound to one topic and one type,
// created by Advertise and owned by the adapter that created it.
type Publisher interface {
	// Publish sends one value. A value whose type does not match the
	// advertised type is rejected with ErrMismatchedType, never forwarded.
	Publish(msg *types.Data) error
}

// Client is the proxy for the original caller of an in-flight service
// request. ReceiveResponse may be called from a different thread than the
// one that minted the handle, much later, and concurrently with calls for
// other handles. Delivery is at most once per handle; an unknown or
// already-resolved handle is dropped with a diagnostic, never fatal.
type Client interface {
	ReceiveResponse(call correlation.Handle, resp *types.Data)
}

// Provider is the proxy through which the router re-invokes a request on
// the middleware that hosts the actual service. CallService must not block
// and must guarantee that client.ReceiveResponse(call, ...) is eventually
// invoked exactly once, on success or failure.
type Provider interface {
	CallService(req *types.Data, client Client, call correlation.Handle)
}

// TopicPublisherSystem is the capability of adapters that can emit topic
// traffic into their middleware.
type TopicPublisherSystem interface {
	SystemHandle

	// Advertise creates a publisher proxy for one (topic, type) pair. cfg
	// carries middleware-specific settings and may be nil.
	Advertise(topic string, msgType string, cfg *yaml.Node) (Publisher, error)
}

// TopicSubscriberSystem is the capability of adapters that can deliver
// inbound topic traffic to the router.
type TopicSubscriberSystem interface {
	SystemHandle

	// Subscribe registers cb to be invoked once per inbound message on the
	// topic, in the transport's delivery order; this layer introduces no
	// reordering. Callbacks run synchronously within SpinOnce unless the
	// adapter documents otherwise.
	Subscribe(topic string, msgType string, cb SubscriptionCallback, cfg *yaml.Node) error
}

// ServiceClientSystem is the capability of adapters whose middleware
// originates service requests.
type ServiceClientSystem interface {
	SystemHandle

	// CreateClientProxy arranges for every inbound request on the service
	// to mint a fresh correlation handle and invoke cb with it.
	CreateClientProxy(service string, svcType string, cb RequestCallback, cfg *yaml.Node) error
}

// ServiceProviderSystem is the capability of adapters whose middleware
// hosts service providers.
type ServiceProviderSystem interface {
	SystemHandle

	// CreateServiceProxy creates the provider proxy for one service.
	CreateServiceProxy(service string, svcType string, cfg *yaml.Node) (Provider, error)
}

// TopicSystem combines both topic capabilities.
type TopicSystem interface {
	TopicPublisherSystem
	TopicSubscriberSystem
}

// ServiceSystem combines both service capabilities.
type ServiceSystem interface {
	ServiceClientSystem
	ServiceProviderSystem
}

// FullSystem is an adapter that supports everything.
type FullSystem interface {
	TopicSystem
	ServiceSystem
}
