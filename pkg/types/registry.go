package types

import (
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Service describes a named request/response service type. The Name is the
// qualified name routes bind to; FullMethod is the gRPC-style method path
// ("/pkg.Service/Method") adapters may use for transport-level routing.
type Service struct {
	Name       string
	FullMethod string
	Request    protoreflect.MessageDescriptor
	Response   protoreflect.MessageDescriptor
}

// Required is the set of message and service type names one adapter must be
// able to handle. The router computes it once from the routing table and
// passes it to Configure; adapters treat it as read-only.
type Required struct {
	Messages map[string]struct{}
	Services map[string]struct{}
}

// NewRequired returns an empty Required set.
func NewRequired() Required {
	return Required{
		Messages: make(map[string]struct{}),
		Services: make(map[string]struct{}),
	}
}

// AddMessage records a required message type name.
func (r Required) AddMessage(name string) {
	r.Messages[name] = struct{}{}
}

// AddService records a required service type name.
func (r Required) AddService(name string) {
	r.Services[name] = struct{}{}
}

// Registry is the shared mapping from a type's qualified name to its runtime
// descriptor. It is populated during the configuration phase (by the schema
// loader and by adapters that contribute types natively) and read-only
// thereafter, so lookups are cheap RLock hits on the hot path.
type Registry struct {
	mu       sync.RWMutex
	messages map[string]protoreflect.MessageDescriptor
	services map[string]Service
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		messages: make(map[string]protoreflect.MessageDescriptor),
		services: make(map[string]Service),
	}
}

// RegisterMessage adds a message descriptor under its full name.
// Re-registering the same full name is allowed and idempotent; identity is
// name-based by contract.
func (r *Registry) RegisterMessage(md protoreflect.MessageDescriptor) error {
	if md == nil {
		return fmt.Errorf("cannot register nil message descriptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[string(md.FullName())] = md
	return nil
}

// RegisterService adds a service type under its name.
func (r *Registry) RegisterService(s Service) error {
	if s.Name == "" {
		return fmt.Errorf("cannot register service with empty name")
	}
	if s.Request == nil || s.Response == nil {
		return fmt.Errorf("service %s is missing request or response descriptor", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.Name] = s
	return nil
}

// Message looks up a message descriptor by qualified name.
func (r *Registry) Message(name string) (protoreflect.MessageDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.messages[name]
	return md, ok
}

// Service looks up a service type by name.
func (r *Registry) Service(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	return s, ok
}

// Missing returns the names in req that the registry cannot satisfy, sorted
// for stable diagnostics. Adapters call this from Configure after
// contributing whatever types their middleware supplies natively.
func (r *Registry) Missing(req Required) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for name := range req.Messages {
		if _, ok := r.messages[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range req.Services {
		if _, ok := r.services[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// MessageCount returns the number of registered message types.
func (r *Registry) MessageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// ServiceCount returns the number of registered service types.
func (r *Registry) ServiceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
