package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/crossbus/crossbus/pkg/types"
)

// ServeFunc is a native service implementation hosted on a Hub.
type ServeFunc func(ctx context.Context, req *types.Data) (*types.Data, error)

// Hub is the in-process middleware fabric. Native endpoints and attached
// adapters all exchange traffic through it.
type Hub struct {
	mu         sync.Mutex
	systems    []*System
	nativeSubs map[string][]func(*types.Data)
	servers    map[string]ServeFunc
	clients    map[string]*clientProxy
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		nativeSubs: make(map[string][]func(*types.Data)),
		servers:    make(map[string]ServeFunc),
		clients:    make(map[string]*clientProxy),
	}
}

// SubscribeNative registers a native topic consumer. Callbacks run on the
// publisher's goroutine.
func (h *Hub) SubscribeNative(topic string, fn func(*types.Data)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nativeSubs[topic] = append(h.nativeSubs[topic], fn)
}

// Serve registers the native implementation of a service.
func (h *Hub) Serve(service string, fn ServeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.servers[service] = fn
}

// Publish delivers a native message to every consumer on the topic.
func (h *Hub) Publish(topic string, msg *types.Data) {
	h.publish(nil, topic, msg)
}

// Call issues a native service request and waits for its response. The
// request is routed to whichever attached adapter holds a client proxy for
// the service; cancelling ctx abandons the in-flight call.
func (h *Hub) Call(ctx context.Context, service string, req *types.Data) (*types.Data, error) {
	h.mu.Lock()
	cp := h.clients[service]
	h.mu.Unlock()

	if cp == nil {
		return nil, fmt.Errorf("no client proxy attached for service %s", service)
	}
	return cp.call(ctx, req)
}

func (h *Hub) attach(s *System) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.systems = append(h.systems, s)
}

func (h *Hub) detach(s *System) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sys := range h.systems {
		if sys == s {
			h.systems = append(h.systems[:i], h.systems[i+1:]...)
			break
		}
	}
	for service, cp := range h.clients {
		if cp.sys == s {
			delete(h.clients, service)
		}
	}
}

func (h *Hub) registerClient(service string, cp *clientProxy) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clients[service]; exists {
		return fmt.Errorf("service %s already has a client proxy on this hub", service)
	}
	h.clients[service] = cp
	return nil
}

func (h *Hub) server(service string) (ServeFunc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.servers[service]
	return fn, ok
}

// publish fans a message out to native subscribers and to every attached
// adapter with a subscription on the topic, except the adapter it came from.
// Each consumer gets its own clone; Data is a move-once value.
func (h *Hub) publish(origin *System, topic string, msg *types.Data) {
	h.mu.Lock()
	native := append([]func(*types.Data){}, h.nativeSubs[topic]...)
	systems := append([]*System{}, h.systems...)
	h.mu.Unlock()

	for _, fn := range native {
		fn(msg.Clone())
	}
	for _, s := range systems {
		if s == origin {
			continue
		}
		s.enqueueMessage(topic, msg.Clone())
	}
}
