package inproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/reflect/protoreflect"
	"gopkg.in/yaml.v3"

	"github.com/crossbus/crossbus/pkg/async"
	"github.com/crossbus/crossbus/pkg/correlation"
	"github.com/crossbus/crossbus/pkg/system"
	"github.com/crossbus/crossbus/pkg/types"
)

// Kind is the middleware kind name this adapter registers under.
const Kind = "inproc"

const defaultQueueSize = 1024

// Config is the middleware-specific configuration fragment.
type Config struct {
	QueueSize int `yaml:"queue_size"`
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventRequest
)

type event struct {
	kind eventKind

	// eventMessage
	topic string
	msg   *types.Data

	// eventRequest
	client *clientProxy
	req    *types.Data
	call   correlation.Handle
}

// System is the in-memory adapter. It implements system.FullSystem.
type System struct {
	hub *Hub
	log logrus.FieldLogger

	mu         sync.Mutex
	cfg        Config
	reg        *types.Registry
	queue      chan event
	subs       map[string]*subscription
	configured bool

	ok atomic.Bool
}

type subscription struct {
	md protoreflect.MessageDescriptor
	cb system.SubscriptionCallback
}

// New creates an adapter attached to the given hub.
func New(hub *Hub, log logrus.FieldLogger) *System {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &System{
		hub:  hub,
		log:  log.WithField("system", Kind),
		subs: make(map[string]*subscription),
	}
}

// Factory returns a system.Factory that attaches every adapter it builds to
// the shared hub.
func Factory(hub *Hub, log logrus.FieldLogger) system.Factory {
	return func() system.SystemHandle { return New(hub, log) }
}

// Configure implements system.SystemHandle. The inproc middleware supplies
// no types natively, so every required type must already be in the registry.
func (s *System) Configure(req types.Required, cfg *yaml.Node, reg *types.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return fmt.Errorf("inproc: already configured")
	}
	if cfg != nil && cfg.Kind != 0 {
		if err := cfg.Decode(&s.cfg); err != nil {
			return fmt.Errorf("inproc: decoding configuration: %w", err)
		}
	}
	if s.cfg.QueueSize <= 0 {
		s.cfg.QueueSize = defaultQueueSize
	}

	if missing := reg.Missing(req); len(missing) > 0 {
		return fmt.Errorf("inproc: %w: %v", system.ErrUnknownType, missing)
	}

	s.reg = reg
	s.queue = make(chan event, s.cfg.QueueSize)
	s.configured = true
	s.ok.Store(true)
	s.hub.attach(s)
	return nil
}

// Okay implements system.SystemHandle.
func (s *System) Okay() bool {
	return s.ok.Load()
}

// SpinOnce drains the inbound queue, invoking subscription and request
// callbacks synchronously, then returns without blocking.
func (s *System) SpinOnce() bool {
	if !s.ok.Load() {
		return false
	}
	for {
		select {
		case ev := <-s.queue:
			s.dispatch(ev)
		default:
			return s.ok.Load()
		}
	}
}

// Close detaches the adapter from the hub and marks it non-live. Responses
// arriving for its calls afterwards are dropped by the correlation tables.
func (s *System) Close() error {
	s.ok.Store(false)
	s.hub.detach(s)
	return nil
}

func (s *System) dispatch(ev event) {
	switch ev.kind {
	case eventMessage:
		s.mu.Lock()
		sub := s.subs[ev.topic]
		s.mu.Unlock()
		if sub != nil {
			sub.cb(ev.msg)
		}
	case eventRequest:
		ev.client.cb(ev.req, ev.client, ev.call)
	}
}

// Advertise implements system.TopicPublisherSystem.
func (s *System) Advertise(topic string, msgType string, cfg *yaml.Node) (system.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return nil, system.ErrNotConfigured
	}
	md, ok := s.reg.Message(msgType)
	if !ok {
		return nil, fmt.Errorf("inproc: advertise %s: %w: %s", topic, system.ErrUnknownType, msgType)
	}
	return &publisher{sys: s, topic: topic, md: md}, nil
}

// Subscribe implements system.TopicSubscriberSystem. One subscription per
// topic; the hub preserves per-publisher delivery order into the queue.
func (s *System) Subscribe(topic string, msgType string, cb system.SubscriptionCallback, cfg *yaml.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return system.ErrNotConfigured
	}
	md, ok := s.reg.Message(msgType)
	if !ok {
		return fmt.Errorf("inproc: subscribe %s: %w: %s", topic, system.ErrUnknownType, msgType)
	}
	if _, exists := s.subs[topic]; exists {
		return fmt.Errorf("inproc: topic %s already subscribed", topic)
	}
	s.subs[topic] = &subscription{md: md, cb: cb}
	return nil
}

// CreateClientProxy implements system.ServiceClientSystem.
func (s *System) CreateClientProxy(service string, svcType string, cb system.RequestCallback, cfg *yaml.Node) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return system.ErrNotConfigured
	}
	svc, ok := s.reg.Service(svcType)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: client proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}

	cp := &clientProxy{
		sys:     s,
		service: service,
		svc:     svc,
		cb:      cb,
		calls:   correlation.NewTable[chan *types.Data](0),
		log:     s.log.WithField("service", service),
	}
	return s.hub.registerClient(service, cp)
}

// CreateServiceProxy implements system.ServiceProviderSystem.
func (s *System) CreateServiceProxy(service string, svcType string, cfg *yaml.Node) (system.Provider, error) {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return nil, system.ErrNotConfigured
	}
	svc, ok := s.reg.Service(svcType)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inproc: service proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}
	return &provider{sys: s, service: service, svc: svc, log: s.log.WithField("service", service)}, nil
}

func (s *System) enqueueMessage(topic string, msg *types.Data) {
	s.mu.Lock()
	sub := s.subs[topic]
	queue := s.queue
	s.mu.Unlock()
	if sub == nil || queue == nil {
		return
	}
	if !msg.Is(sub.md) {
		s.log.WithFields(logrus.Fields{
			"topic": topic,
			"got":   msg.TypeName(),
			"want":  string(sub.md.FullName()),
		}).Warn("dropping message with mismatched type")
		return
	}
	select {
	case queue <- event{kind: eventMessage, topic: topic, msg: msg}:
	default:
		// Queue overrun is this transport's loss mode.
		s.log.WithField("topic", topic).Warn("inbound queue full, dropping message")
	}
}

func (s *System) enqueueRequest(cp *clientProxy, req *types.Data, call correlation.Handle) error {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return system.ErrNotConfigured
	}
	select {
	case queue <- event{kind: eventRequest, client: cp, req: req, call: call}:
		return nil
	default:
		return fmt.Errorf("inproc: inbound queue full")
	}
}

// publisher forwards router traffic into the hub.
type publisher struct {
	sys   *System
	topic string
	md    protoreflect.MessageDescriptor
}

func (p *publisher) Publish(msg *types.Data) error {
	if msg == nil || !msg.Is(p.md) {
		return fmt.Errorf("publish %s: %w", p.topic, system.ErrMismatchedType)
	}
	if !p.sys.ok.Load() {
		return system.ErrNotLive
	}
	p.sys.hub.publish(p.sys, p.topic, msg)
	return nil
}

// clientProxy represents native callers of one service. Each native call is
// one correlation-table entry holding the caller's reply channel.
type clientProxy struct {
	sys     *System
	service string
	svc     types.Service
	cb      system.RequestCallback
	calls   *correlation.Table[chan *types.Data]
	log     logrus.FieldLogger
}

func (cp *clientProxy) call(ctx context.Context, req *types.Data) (*types.Data, error) {
	if req == nil || !req.Is(cp.svc.Request) {
		return nil, fmt.Errorf("call %s: %w", cp.service, system.ErrMismatchedType)
	}

	ch := make(chan *types.Data, 1)
	handle := cp.calls.Insert(ch)

	if err := cp.sys.enqueueRequest(cp, req, handle); err != nil {
		cp.calls.Drop(handle)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		// Caller disappeared; abandon the in-flight call so the table
		// stays bounded. A response racing this drop is logged as late.
		cp.calls.Drop(handle)
		return nil, ctx.Err()
	}
}

// ReceiveResponse implements system.Client. Safe for concurrent invocation;
// a handle resolves at most once and unknown handles are dropped with a
// diagnostic.
func (cp *clientProxy) ReceiveResponse(call correlation.Handle, resp *types.Data) {
	ch, ok := cp.calls.Resolve(call)
	if !ok {
		if at, late := cp.calls.ReleasedAt(call); late {
			cp.log.WithFields(logrus.Fields{
				"call":        call.String(),
				"released_at": at,
			}).Warn("late response for already-completed call")
		} else {
			cp.log.WithField("call", call.String()).Warn("response for unknown call handle")
		}
		return
	}
	if resp == nil || !resp.Is(cp.svc.Response) {
		cp.log.WithField("call", call.String()).Warn("rejecting response with mismatched type")
		return
	}
	ch <- resp
}

// provider forwards router-dispatched requests to the hub's native server
// for the service.
type provider struct {
	sys     *System
	service string
	svc     types.Service
	log     logrus.FieldLogger
}

// CallService implements system.Provider. Non-blocking; the native server
// runs on its own goroutine and the response (or a synthetic empty failure
// response) is delivered to the client exactly once.
func (p *provider) CallService(req *types.Data, client system.Client, call correlation.Handle) {
	if req == nil || !req.Is(p.svc.Request) {
		p.log.WithField("call", call.String()).Warn("rejecting request with mismatched type")
		client.ReceiveResponse(call, types.NewData(p.svc.Response))
		return
	}

	srv, ok := p.sys.hub.server(p.service)
	if !ok {
		p.log.Warn("no native server for service, completing call with empty response")
		client.ReceiveResponse(call, types.NewData(p.svc.Response))
		return
	}

	async.SafeGo(context.Background(), p.log, 30*time.Second, "inproc service dispatch", func(ctx context.Context) error {
		resp, err := srv(ctx, req)
		if err != nil || resp == nil || !resp.Is(p.svc.Response) {
			if err != nil {
				p.log.WithError(err).Warn("native server failed, completing call with empty response")
			}
			resp = types.NewData(p.svc.Response)
		}
		client.ReceiveResponse(call, resp)
		return nil
	})
}
